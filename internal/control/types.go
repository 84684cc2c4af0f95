package control

import "time"

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents daemon status information.
type StatusResponse struct {
	Running           bool      `json:"running"`
	PID               int       `json:"pid"`
	Version           string    `json:"version"`
	InstanceID        string    `json:"instance_id"`
	DeviceID          string    `json:"device_id"`
	HubURI            string    `json:"hub_uri"`
	HubConnected      bool      `json:"hub_connected"`
	Companions        int       `json:"companions"`
	Terminals         int       `json:"terminals"`
	StartedAt         time.Time `json:"started_at"`
	LockPath          string    `json:"lock_path"`
	SocketPath        string    `json:"socket_path"`
	ControlSocketPath string    `json:"control_socket_path"`
	FailuresDBPath    string    `json:"failures_db_path"`
}

// SessionsRequest lists registered companions.
type SessionsRequest struct{}

// Session describes one registered companion.
type Session struct {
	PID         int       `json:"pid"`
	ConnectedAt time.Time `json:"connected_at"`
	Connected   bool      `json:"connected"`
}

// SessionsResponse contains registered companions ordered by PID.
type SessionsResponse struct {
	Sessions []Session `json:"sessions"`
}

// TerminalsRequest lists live terminal sessions.
type TerminalsRequest struct{}

// Terminal describes one live terminal session.
type Terminal struct {
	ID         string    `json:"id"`
	ViewerID   string    `json:"viewer_id"`
	Kind       string    `json:"kind"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
}

// TerminalsResponse contains live terminal sessions.
type TerminalsResponse struct {
	Terminals []Terminal `json:"terminals"`
}

// FailuresRequest filters failure reports.
type FailuresRequest struct {
	Component    string `json:"component"`
	SinceSeconds int    `json:"since_seconds"`
	Limit        int    `json:"limit"`
}

// Failure is one persisted failure report.
type Failure struct {
	ID             int64     `json:"id"`
	OccurredAt     time.Time `json:"occurred_at"`
	Component      string    `json:"component"`
	Operation      string    `json:"operation"`
	Code           string    `json:"code"`
	Reason         string    `json:"reason"`
	PID            int       `json:"pid,omitempty"`
	ExecutablePath string    `json:"executable_path,omitempty"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
}

// FailuresResponse contains failure reports, newest first.
type FailuresResponse struct {
	Failures []Failure `json:"failures"`
}
