package config

const (
	defaultConfigPath          = "~/.config/tether/config.toml"
	defaultStateDir            = "~/.local/share/tether"
	defaultLogDir              = "~/.local/share/tether/logs"
	defaultSocketDir           = "~/.local/share/tether/run"
	defaultLockDir             = "~/.local/share/tether/locks"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
	defaultHeartbeatInterval   = 300
	defaultMaxReconnectDelay   = 30
	defaultHandshakeTimeout    = 15
	defaultAttestationTimeout  = 30
	defaultWatchdogIntervalMS  = 500
	defaultInvokeTimeout       = 10
	defaultMaxFrameBytes       = 16 << 20
	defaultMaxChunkBytes       = 4 << 20
	defaultInteractiveTimeout  = 10
	defaultTransferTimeout     = 30 * 60
	defaultPreviewQueueDepth   = 4
	defaultDownloadQueueDepth  = 4
	defaultUpdateIntervalHours = 6
	defaultTerminalIdleMinutes = 10
	defaultTerminalSweep       = 60
	defaultTerminalInput       = 5
	defaultLockPollIntervalMS  = 200
	defaultLockAcquireTimeout  = 120
	defaultFailuresPerWindow   = 5
	defaultFailureWindow       = 60
	defaultFailureRetention    = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
			SocketDir: defaultSocketDir,
			LockDir:   defaultLockDir,
		},
		Hub: Hub{
			HeartbeatInterval: defaultHeartbeatInterval,
			MaxReconnectDelay: defaultMaxReconnectDelay,
			HandshakeTimeout:  defaultHandshakeTimeout,
		},
		Agent: Agent{
			CompanionPath:  defaultCompanionPath(),
			VerifySigners:  true,
			UpdateInterval: defaultUpdateIntervalHours,
		},
		IPC: IPC{
			AttestationTimeout: defaultAttestationTimeout,
			WatchdogIntervalMS: defaultWatchdogIntervalMS,
			InvokeTimeout:      defaultInvokeTimeout,
			MaxFrameBytes:      defaultMaxFrameBytes,
		},
		Streaming: Streaming{
			MaxChunkBytes:      defaultMaxChunkBytes,
			InteractiveTimeout: defaultInteractiveTimeout,
			TransferTimeout:    defaultTransferTimeout,
			PreviewQueueDepth:  defaultPreviewQueueDepth,
			DownloadQueueDepth: defaultDownloadQueueDepth,
		},
		Terminal: Terminal{
			IdleTimeoutMinutes: defaultTerminalIdleMinutes,
			SweepInterval:      defaultTerminalSweep,
			InputTimeout:       defaultTerminalInput,
		},
		Lock: Lock{
			PollIntervalMS: defaultLockPollIntervalMS,
			AcquireTimeout: defaultLockAcquireTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Failures: Failures{
			MaxPerWindow:  defaultFailuresPerWindow,
			WindowSeconds: defaultFailureWindow,
			RetentionDays: defaultFailureRetention,
		},
	}
}
