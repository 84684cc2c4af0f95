// Package logs reads the agent's log files for `tether logs`.
//
// Last returns the final lines of a file with bounded memory. Follow polls
// from an offset and emits new lines as the daemon appends them, restarting
// from the top when the file is truncated or tetherd.log is repointed at a
// fresh run.
package logs
