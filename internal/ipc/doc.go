// Package ipc implements the local channel between the agent and companion
// processes.
//
// Frames are length-prefixed CBOR envelopes. Each accepted connection is
// authenticated by peer credentials, must attest its own PID in its first
// frame, and then becomes a bidirectional Conn supporting request/response
// (invoke) and fire-and-forget (send) messages.
package ipc
