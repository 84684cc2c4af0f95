// Package watchdog evicts dead companion sessions from the registry.
//
// The exit watcher inside the registry catches most process exits as they
// happen; the watchdog is the periodic backstop that also notices channels
// that dropped while their process kept running.
package watchdog
