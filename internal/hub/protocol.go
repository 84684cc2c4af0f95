package hub

import (
	"encoding/json"
	"fmt"
)

// AgentPath is appended to the configured server URI to reach the agent hub.
const AgentPath = "/hubs/agent"

// DeviceHeader carries the device identity on the websocket handshake.
const DeviceHeader = "X-Tether-Device"

// FrameType discriminates hub frames.
type FrameType string

const (
	// FrameCall invokes a method. Calls without an ID expect no reply.
	FrameCall FrameType = "call"
	// FrameResult answers a call.
	FrameResult FrameType = "result"
	// FrameChunk carries one ordered piece of a stream for call ID.
	FrameChunk FrameType = "chunk"
	// FrameEnd terminates the stream for call ID, with Error on failure.
	FrameEnd FrameType = "end"
)

// Frame is one JSON websocket message in either direction.
type Frame struct {
	Type       FrameType       `json:"type"`
	ID         string          `json:"id,omitempty"`
	Method     string          `json:"method,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Seq        int             `json:"seq,omitempty"`
	Data       []byte          `json:"data,omitempty"`
	Compressed bool            `json:"compressed,omitempty"`
}

// Methods the agent calls on the hub.
const (
	MethodUpdateDevice       = "UpdateDevice"
	MethodSendChatResponse   = "SendChatResponse"
	MethodSendTerminalOutput = "SendTerminalOutput"
)

// CompanionSession describes one registered companion in a heartbeat.
type CompanionSession struct {
	PID         int    `json:"pid"`
	ConnectedAt string `json:"connected_at"`
}

// DeviceReport is the heartbeat payload.
type DeviceReport struct {
	DeviceID          string             `json:"device_id"`
	InstanceID        string             `json:"instance_id,omitempty"`
	Hostname          string             `json:"hostname"`
	OS                string             `json:"os"`
	Arch              string             `json:"arch"`
	AgentVersion      string             `json:"agent_version"`
	CompanionSessions []CompanionSession `json:"companion_sessions"`
	TerminalSessions  int                `json:"terminal_sessions"`
}

// DeviceAck is the hub's reply to UpdateDevice.
type DeviceAck struct {
	DeviceID string `json:"device_id"`
}

// TerminalOutput forwards terminal bytes to the viewer that owns the session.
type TerminalOutput struct {
	TerminalID string `json:"terminal_id"`
	ViewerID   string `json:"viewer_id"`
	Output     string `json:"output"`
}

// ChatResponse forwards a desktop user's chat reply.
type ChatResponse struct {
	SessionID  string `json:"session_id"`
	SenderName string `json:"sender_name"`
	Message    string `json:"message"`
	ViewerID   string `json:"viewer_id"`
	PID        int    `json:"pid"`
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return data, nil
}
