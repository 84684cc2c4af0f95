// Package daemonctl starts and stops a detached tether agent on behalf of
// the CLI. It talks to the agent through the control socket and falls back
// to the pid file when a graceful stop times out.
package daemonctl
