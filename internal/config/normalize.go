package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeHub()
	if err := c.normalizeAgent(); err != nil {
		return err
	}
	c.normalizeIPC()
	c.normalizeStreaming()
	c.normalizeTerminal()
	c.normalizeLock()
	c.normalizeLogging()
	c.normalizeFailures()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketDir) == "" {
		c.Paths.SocketDir = defaultSocketDir
	}
	if c.Paths.SocketDir, err = expandPath(c.Paths.SocketDir); err != nil {
		return fmt.Errorf("paths.socket_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LockDir) == "" {
		c.Paths.LockDir = defaultLockDir
	}
	if c.Paths.LockDir, err = expandPath(c.Paths.LockDir); err != nil {
		return fmt.Errorf("paths.lock_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeHub() {
	c.Hub.ServerURI = strings.TrimSpace(c.Hub.ServerURI)
	if c.Hub.ServerURI == "" {
		if value, ok := os.LookupEnv("TETHER_SERVER_URI"); ok {
			c.Hub.ServerURI = strings.TrimSpace(value)
		}
	}
	c.Hub.ServerURI = strings.TrimRight(c.Hub.ServerURI, "/")
	c.Hub.DeviceID = strings.TrimSpace(c.Hub.DeviceID)
	if c.Hub.HeartbeatInterval <= 0 {
		c.Hub.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Hub.MaxReconnectDelay <= 0 {
		c.Hub.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	if c.Hub.HandshakeTimeout <= 0 {
		c.Hub.HandshakeTimeout = defaultHandshakeTimeout
	}
}

func (c *Config) normalizeAgent() error {
	c.Agent.InstanceID = strings.TrimSpace(c.Agent.InstanceID)
	if c.Agent.InstanceID == "" {
		if value, ok := os.LookupEnv("TETHER_INSTANCE_ID"); ok {
			c.Agent.InstanceID = strings.TrimSpace(value)
		}
	}
	c.Agent.InstanceID = strings.ToLower(c.Agent.InstanceID)

	var err error
	if strings.TrimSpace(c.Agent.CompanionPath) == "" {
		c.Agent.CompanionPath = defaultCompanionPath()
	}
	if c.Agent.CompanionPath, err = expandPath(strings.TrimSpace(c.Agent.CompanionPath)); err != nil {
		return fmt.Errorf("agent.companion_path: %w", err)
	}
	if strings.TrimSpace(c.Agent.DevelopmentDir) != "" {
		if c.Agent.DevelopmentDir, err = expandPath(strings.TrimSpace(c.Agent.DevelopmentDir)); err != nil {
			return fmt.Errorf("agent.development_dir: %w", err)
		}
	}
	if strings.TrimSpace(c.Agent.SigningKeyPath) != "" {
		if c.Agent.SigningKeyPath, err = expandPath(strings.TrimSpace(c.Agent.SigningKeyPath)); err != nil {
			return fmt.Errorf("agent.signing_key_path: %w", err)
		}
	}
	c.Agent.UninstallCmd = strings.TrimSpace(c.Agent.UninstallCmd)
	c.Agent.UpdateCmd = strings.TrimSpace(c.Agent.UpdateCmd)
	if c.Agent.UpdateInterval <= 0 {
		c.Agent.UpdateInterval = defaultUpdateIntervalHours
	}
	return nil
}

func (c *Config) normalizeIPC() {
	if c.IPC.AttestationTimeout <= 0 {
		c.IPC.AttestationTimeout = defaultAttestationTimeout
	}
	if c.IPC.WatchdogIntervalMS <= 0 {
		c.IPC.WatchdogIntervalMS = defaultWatchdogIntervalMS
	}
	if c.IPC.InvokeTimeout <= 0 {
		c.IPC.InvokeTimeout = defaultInvokeTimeout
	}
	if c.IPC.MaxFrameBytes <= 0 {
		c.IPC.MaxFrameBytes = defaultMaxFrameBytes
	}
}

func (c *Config) normalizeStreaming() {
	if c.Streaming.MaxChunkBytes <= 0 {
		c.Streaming.MaxChunkBytes = defaultMaxChunkBytes
	}
	if c.Streaming.InteractiveTimeout <= 0 {
		c.Streaming.InteractiveTimeout = defaultInteractiveTimeout
	}
	if c.Streaming.TransferTimeout <= 0 {
		c.Streaming.TransferTimeout = defaultTransferTimeout
	}
	if c.Streaming.PreviewQueueDepth <= 0 {
		c.Streaming.PreviewQueueDepth = defaultPreviewQueueDepth
	}
	if c.Streaming.DownloadQueueDepth <= 0 {
		c.Streaming.DownloadQueueDepth = defaultDownloadQueueDepth
	}
}

func (c *Config) normalizeTerminal() {
	c.Terminal.Shell = strings.TrimSpace(c.Terminal.Shell)
	if c.Terminal.IdleTimeoutMinutes <= 0 {
		c.Terminal.IdleTimeoutMinutes = defaultTerminalIdleMinutes
	}
	if c.Terminal.SweepInterval <= 0 {
		c.Terminal.SweepInterval = defaultTerminalSweep
	}
	if c.Terminal.InputTimeout <= 0 {
		c.Terminal.InputTimeout = defaultTerminalInput
	}
}

func (c *Config) normalizeLock() {
	if c.Lock.PollIntervalMS <= 0 {
		c.Lock.PollIntervalMS = defaultLockPollIntervalMS
	}
	if c.Lock.AcquireTimeout <= 0 {
		c.Lock.AcquireTimeout = defaultLockAcquireTimeout
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeFailures() {
	if c.Failures.MaxPerWindow <= 0 {
		c.Failures.MaxPerWindow = defaultFailuresPerWindow
	}
	if c.Failures.WindowSeconds <= 0 {
		c.Failures.WindowSeconds = defaultFailureWindow
	}
	if c.Failures.RetentionDays < 0 {
		c.Failures.RetentionDays = 0
	}
}
