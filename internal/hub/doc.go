// Package hub maintains the agent's persistent connection to the
// coordination server.
//
// Frames are JSON messages over a websocket. The hub calls agent methods
// (optionally streaming results back as chunk frames or uploading data to
// the agent the same way), and the agent calls a small set of hub methods
// for heartbeats and forwarded output. The connection reconnects forever
// with a backoff of attempt² seconds, capped by hub.max_reconnect_delay.
package hub
