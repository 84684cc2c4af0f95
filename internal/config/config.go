package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
	SocketDir string `toml:"socket_dir"`
	LockDir   string `toml:"lock_dir"`
}

// Hub contains configuration for the coordination server connection.
type Hub struct {
	ServerURI         string `toml:"server_uri"`
	DeviceID          string `toml:"device_id"`
	HeartbeatInterval int    `toml:"heartbeat_interval"`
	MaxReconnectDelay int    `toml:"max_reconnect_delay"`
	HandshakeTimeout  int    `toml:"handshake_timeout"`
}

// Agent describes this installation and the companion it trusts.
type Agent struct {
	InstanceID     string `toml:"instance_id"`
	CompanionPath  string `toml:"companion_path"`
	Development    bool   `toml:"development"`
	DevelopmentDir string `toml:"development_dir"`
	SigningKeyPath string `toml:"signing_key_path"`
	VerifySigners  bool   `toml:"verify_signers"`
	UninstallCmd   string `toml:"uninstall_command"`
	UpdateCmd      string `toml:"update_command"`
	AutoUpdate     bool   `toml:"auto_update"`
	UpdateInterval int    `toml:"update_interval_hours"`
}

// IPC contains configuration for the companion channel.
type IPC struct {
	AttestationTimeout int `toml:"attestation_timeout"`
	WatchdogIntervalMS int `toml:"watchdog_interval_ms"`
	InvokeTimeout      int `toml:"invoke_timeout"`
	MaxFrameBytes      int `toml:"max_frame_bytes"`
}

// Streaming contains configuration for chunked responses to the hub.
type Streaming struct {
	MaxChunkBytes      int  `toml:"max_chunk_bytes"`
	InteractiveTimeout int  `toml:"interactive_timeout"`
	TransferTimeout    int  `toml:"transfer_timeout"`
	PreviewQueueDepth  int  `toml:"preview_queue_depth"`
	DownloadQueueDepth int  `toml:"download_queue_depth"`
	Compress           bool `toml:"compress"`
}

// Terminal contains configuration for remote terminal sessions.
type Terminal struct {
	Shell              string `toml:"shell"`
	IdleTimeoutMinutes int    `toml:"idle_timeout_minutes"`
	SweepInterval      int    `toml:"sweep_interval"`
	InputTimeout       int    `toml:"input_timeout"`
}

// Lock contains configuration for the cross-process mutation lock.
type Lock struct {
	PollIntervalMS int `toml:"poll_interval_ms"`
	AcquireTimeout int `toml:"acquire_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Failures contains configuration for authentication rate limiting and
// failure report retention.
type Failures struct {
	MaxPerWindow  int `toml:"max_per_window"`
	WindowSeconds int `toml:"window_seconds"`
	RetentionDays int `toml:"retention_days"`
}

// Config encapsulates all configuration values for tether.
//
// Configuration sections by subsystem:
//   - Paths: state, log, socket, and lock directories
//   - Hub: coordination server address and heartbeat cadence
//   - Agent: installation identity and trusted companion location
//   - IPC: companion channel attestation and watchdog timing
//   - Streaming: chunk size, deadlines, and compression
//   - Terminal: shell and idle expiry
//   - Lock: mutation lock polling
//   - Logging: log format, level, and retention
//   - Failures: authentication rate limit and report retention
type Config struct {
	Paths     Paths     `toml:"paths"`
	Hub       Hub       `toml:"hub"`
	Agent     Agent     `toml:"agent"`
	IPC       IPC       `toml:"ipc"`
	Streaming Streaming `toml:"streaming"`
	Terminal  Terminal  `toml:"terminal"`
	Lock      Lock      `toml:"lock"`
	Logging   Logging   `toml:"logging"`
	Failures  Failures  `toml:"failures"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tether.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.SocketDir, c.Paths.LockDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the companion socket path for this installation instance.
func (c *Config) SocketPath() string {
	name := "tether.sock"
	if c.Agent.InstanceID != "" {
		name = "tether-" + c.Agent.InstanceID + ".sock"
	}
	return filepath.Join(c.Paths.SocketDir, name)
}

// PIDPath returns the file where the running daemon records its pid.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "tetherd.pid")
}

// DaemonLogPath returns the pointer to the current tetherd log file.
func (c *Config) DaemonLogPath() string {
	return filepath.Join(c.Paths.LogDir, "tetherd.log")
}

// ControlSocketPath returns the CLI control socket path.
func (c *Config) ControlSocketPath() string {
	name := "tetherd.sock"
	if c.Agent.InstanceID != "" {
		name = "tetherd-" + c.Agent.InstanceID + ".sock"
	}
	return filepath.Join(c.Paths.SocketDir, name)
}

// DaemonLockPath returns the single-instance lock file for tetherd.
func (c *Config) DaemonLockPath() string {
	name := "tetherd.lock"
	if c.Agent.InstanceID != "" {
		name = "tetherd-" + c.Agent.InstanceID + ".lock"
	}
	return filepath.Join(c.Paths.StateDir, name)
}

// FailuresDBPath returns the failure report database path.
func (c *Config) FailuresDBPath() string {
	return filepath.Join(c.Paths.StateDir, "failures.db")
}

// WatchdogInterval returns the registry sweep cadence.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.IPC.WatchdogIntervalMS) * time.Millisecond
}

// AttestationTimeout returns how long a companion has to attest its identity.
func (c *Config) AttestationTimeout() time.Duration {
	return time.Duration(c.IPC.AttestationTimeout) * time.Second
}

// InvokeTimeout returns the default deadline for companion requests.
func (c *Config) InvokeTimeout() time.Duration {
	return time.Duration(c.IPC.InvokeTimeout) * time.Second
}

// InteractiveTimeout returns the deadline for listing and preview streams.
func (c *Config) InteractiveTimeout() time.Duration {
	return time.Duration(c.Streaming.InteractiveTimeout) * time.Second
}

// TransferTimeout returns the deadline for file downloads and uploads.
func (c *Config) TransferTimeout() time.Duration {
	return time.Duration(c.Streaming.TransferTimeout) * time.Second
}

// TerminalIdleTimeout returns the sliding expiration for terminal sessions.
func (c *Config) TerminalIdleTimeout() time.Duration {
	return time.Duration(c.Terminal.IdleTimeoutMinutes) * time.Minute
}

// TerminalSweepInterval returns the terminal janitor cadence.
func (c *Config) TerminalSweepInterval() time.Duration {
	return time.Duration(c.Terminal.SweepInterval) * time.Second
}

// TerminalInputTimeout returns the per-write deadline for terminal input.
func (c *Config) TerminalInputTimeout() time.Duration {
	return time.Duration(c.Terminal.InputTimeout) * time.Second
}

// LockPollInterval returns the OS lock polling cadence.
func (c *Config) LockPollInterval() time.Duration {
	return time.Duration(c.Lock.PollIntervalMS) * time.Millisecond
}

// UpdateCheckInterval returns the period between automatic update runs.
func (c *Config) UpdateCheckInterval() time.Duration {
	return time.Duration(c.Agent.UpdateInterval) * time.Hour
}

// LockAcquireTimeout returns the bounded wait used by maintenance commands.
func (c *Config) LockAcquireTimeout() time.Duration {
	return time.Duration(c.Lock.AcquireTimeout) * time.Second
}

// FailureWindow returns the authentication rate-limit window.
func (c *Config) FailureWindow() time.Duration {
	return time.Duration(c.Failures.WindowSeconds) * time.Second
}

// HeartbeatInterval returns the hub heartbeat cadence.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Hub.HeartbeatInterval) * time.Second
}

// CompanionName returns the file name of the trusted companion binary.
func (c *Config) CompanionName() string {
	return filepath.Base(c.Agent.CompanionPath)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCompanionPath() string {
	switch runtime.GOOS {
	case "windows":
		return `C:\Program Files\Tether\tether-desktop.exe`
	case "darwin":
		return "/Applications/Tether.app/Contents/MacOS/tether-desktop"
	default:
		return "/usr/local/lib/tether/tether-desktop"
	}
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
