// Package registry tracks the companion processes connected to the agent,
// one record per PID, and disposes each record's channel and process handle
// exactly once when it is replaced, removed, or its process exits.
package registry
