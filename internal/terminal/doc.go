// Package terminal keeps the remote shell sessions opened by hub viewers.
//
// Each session owns a runtime (a pty-backed shell on unix, a pipe-backed
// shell on Windows) whose output is forwarded to an OutputSink. Sessions
// expire after a sliding idle timeout and are evicted as soon as their
// runtime exits; either way they are disposed exactly once.
package terminal
