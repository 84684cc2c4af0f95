package ipc

import "tether/internal/codec"

// Kind distinguishes requests, fire-and-forget messages, and replies.
type Kind string

const (
	KindInvoke   Kind = "invoke"
	KindSend     Kind = "send"
	KindResponse Kind = "response"
)

// Envelope is one frame on the companion socket.
type Envelope struct {
	Type      string           `cbor:"type"`
	ID        string           `cbor:"id,omitempty"`
	Kind      Kind             `cbor:"kind"`
	TimeoutMS int64            `cbor:"timeout_ms,omitempty"`
	Payload   codec.RawMessage `cbor:"payload,omitempty"`
	Error     string           `cbor:"error,omitempty"`
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return codec.Unmarshal(e.Payload, v)
}

// Message types sent by the agent to a companion.
const (
	MsgShutdown               = "shutdown"
	MsgCreateStreamingSession = "create_streaming_session"
	MsgSendChatMessage        = "send_chat_message"
	MsgCloseChatSession       = "close_chat_session"
	MsgInvokeCtrlAltDel       = "invoke_ctrl_alt_del"
	MsgGetDesktopPreview      = "get_desktop_preview"
)

// Message types sent by a companion to the agent.
const (
	MsgIdentityAttestation = "identity_attestation"
	MsgChatResponse        = "chat_response"
)

// ShutdownNotice asks a companion to exit.
type ShutdownNotice struct {
	Reason string `cbor:"reason"`
}

// IdentityAttestation is the first frame a companion sends after connecting.
type IdentityAttestation struct {
	PID int `cbor:"pid"`
}

// StreamingSessionRequest asks a companion to start screen sharing.
type StreamingSessionRequest struct {
	SessionID         string `cbor:"session_id"`
	ViewerConnectURI  string `cbor:"viewer_connect_uri"`
	ViewerName        string `cbor:"viewer_name,omitempty"`
	NotifyUser        bool   `cbor:"notify_user"`
	TargetProcessID   int    `cbor:"target_process_id"`
	RequireUserAccept bool   `cbor:"require_user_accept"`
}

// ChatMessage carries an operator chat line to the desktop user.
type ChatMessage struct {
	SessionID  string `cbor:"session_id"`
	SenderName string `cbor:"sender_name"`
	Message    string `cbor:"message"`
	ViewerID   string `cbor:"viewer_id"`
}

// ChatClose ends a chat session.
type ChatClose struct {
	SessionID string `cbor:"session_id"`
}

// ChatResponse carries the desktop user's reply back to the operator.
type ChatResponse struct {
	SessionID  string `cbor:"session_id"`
	SenderName string `cbor:"sender_name"`
	Message    string `cbor:"message"`
	ViewerID   string `cbor:"viewer_id"`
}

// PreviewRequest asks for a single JPEG frame of the desktop.
type PreviewRequest struct {
	Quality int `cbor:"quality,omitempty"`
}

// PreviewResponse carries the encoded frame.
type PreviewResponse struct {
	JPEG []byte `cbor:"jpeg"`
}

// Ack is the empty success reply for invoke requests without a result.
type Ack struct {
	OK bool `cbor:"ok"`
}
