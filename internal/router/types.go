package router

// Hub methods served by the agent.
const (
	MethodRequestHeartbeat       = "RequestHeartbeat"
	MethodUninstallAgent         = "UninstallAgent"
	MethodUpdateAgent            = "UpdateAgent"
	MethodCloseTerminalSession   = "CloseTerminalSession"
	MethodGetRootDrives          = "GetRootDrives"
	MethodCreateDirectory        = "CreateDirectory"
	MethodDeleteEntry            = "DeleteEntry"
	MethodGetFileInfo            = "GetFileInfo"
	MethodGetActiveUISessions    = "GetActiveUiSessions"
	MethodCreateTerminalSession  = "CreateTerminalSession"
	MethodReceiveTerminalInput   = "ReceiveTerminalInput"
	MethodCreateStreamingSession = "CreateStreamingSession"
	MethodSendChatMessage        = "SendChatMessage"
	MethodCloseChatSession       = "CloseChatSession"
	MethodInvokeCtrlAltDel       = "InvokeCtrlAltDel"
	MethodDownloadFile           = "DownloadFile"
	MethodGetDirectoryContents   = "GetDirectoryContents"
	MethodGetSubdirectories      = "GetSubdirectories"
	MethodGetDesktopPreview      = "GetDesktopPreview"
	MethodUploadFile             = "UploadFile"
)

// UninstallRequest carries the operator's reason for removing the agent.
type UninstallRequest struct {
	Reason string `json:"reason"`
}

// PathRequest names a single file system path.
type PathRequest struct {
	Path string `json:"path"`
}

// PathResult echoes the path an operation acted on.
type PathResult struct {
	Path string `json:"path"`
}

// TerminalSessionRequest opens a terminal for a viewer.
type TerminalSessionRequest struct {
	TerminalID string `json:"terminal_id"`
	ViewerID   string `json:"viewer_id"`
}

// TerminalSessionResult reports the runtime backing a new terminal.
type TerminalSessionResult struct {
	Kind string `json:"kind"`
}

// TerminalInput is keyboard input for a terminal.
type TerminalInput struct {
	TerminalID string `json:"terminal_id"`
	ViewerID   string `json:"viewer_id"`
	Input      string `json:"input"`
}

// CloseTerminalRequest ends a terminal.
type CloseTerminalRequest struct {
	TerminalID string `json:"terminal_id"`
}

// StreamingSessionRequest asks the companion in TargetProcessID to start
// screen sharing with a viewer.
type StreamingSessionRequest struct {
	SessionID         string `json:"session_id"`
	WebsocketURI      string `json:"websocket_uri"`
	ViewerID          string `json:"viewer_id"`
	ViewerName        string `json:"viewer_name,omitempty"`
	TargetProcessID   int    `json:"target_process_id"`
	NotifyUser        bool   `json:"notify_user"`
	RequireUserAccept bool   `json:"require_user_accept"`
}

// ChatMessageRequest relays an operator chat line to a companion.
type ChatMessageRequest struct {
	TargetProcessID int    `json:"target_process_id"`
	SessionID       string `json:"session_id"`
	SenderName      string `json:"sender_name"`
	Message         string `json:"message"`
	ViewerID        string `json:"viewer_id"`
}

// CloseChatRequest ends a chat session on a companion.
type CloseChatRequest struct {
	TargetProcessID int    `json:"target_process_id"`
	SessionID       string `json:"session_id"`
}

// TargetRequest addresses a companion without further parameters.
type TargetRequest struct {
	TargetProcessID int `json:"target_process_id"`
}

// PreviewRequest asks a companion for a desktop thumbnail.
type PreviewRequest struct {
	TargetProcessID int `json:"target_process_id"`
	Quality         int `json:"quality,omitempty"`
}

// AckResult is the reply for relayed calls without a payload.
type AckResult struct {
	OK bool `json:"ok"`
}

// UploadRequest starts an inbound file transfer. Size, when positive, is
// checked against the received byte count.
type UploadRequest struct {
	Directory string `json:"directory"`
	FileName  string `json:"file_name"`
	Size      int64  `json:"size"`
	Overwrite bool   `json:"overwrite"`
}

// UploadResult reports the stored file.
type UploadResult struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}
