// Package daemon coordinates the long-running tether agent process.
//
// It owns the single-instance flock, runs the background services wired by
// daemonrun (hub client, heartbeat, watchdog, terminal janitor, failure
// pruning) between Start and Stop, admits authenticated companions into the
// session registry, and answers the status queries served over the control
// socket.
//
// Keep orchestration logic here: command handling lives in router and
// transport details in hub and ipc.
package daemon
