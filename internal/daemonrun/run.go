package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"tether/internal/auth"
	"tether/internal/config"
	"tether/internal/control"
	"tether/internal/daemon"
	"tether/internal/failures"
	"tether/internal/filesystem"
	"tether/internal/hub"
	"tether/internal/ipc"
	"tether/internal/logging"
	"tether/internal/maintenance"
	"tether/internal/mutationlock"
	"tether/internal/preflight"
	"tether/internal/registry"
	"tether/internal/router"
	"tether/internal/signing"
	"tether/internal/terminal"
	"tether/internal/watchdog"
)

// Version is reported in heartbeats and status output. Release builds set
// it with -ldflags "-X tether/internal/daemonrun.Version=...".
var Version = "dev"

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the tether agent and blocks until SIGINT, SIGTERM, or cmdCtx
// cancellation.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.Hub.ServerURI == "" {
		return errors.New("hub.server_uri is required to run the agent (set it in the config file or TETHER_SERVER_URI)")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("tetherd-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update tetherd.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "tetherd-*.log", Exclude: []string{logPath}},
	)

	logPreflight(signalCtx, logger, cfg)

	store, err := failures.Open(cfg)
	if err != nil {
		logger.Error("open failure store", logging.Error(err))
		return err
	}

	components, err := build(cfg, store, logger)
	if err != nil {
		store.Close()
		return err
	}
	d := components.daemon
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ipcServer, err := ipc.NewServer(signalCtx, ipc.ServerOptions{
		Path:               cfg.SocketPath(),
		Authenticator:      components.auth,
		AttestationTimeout: cfg.AttestationTimeout(),
		MaxFrameBytes:      cfg.IPC.MaxFrameBytes,
		Handler:            components.router.CompanionHandler(components.hub),
		OnCompanion:        d.AttachCompanion,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("start companion socket: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	controlServer, err := control.NewServer(signalCtx, cfg.ControlSocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start control socket: %w", err)
	}
	defer controlServer.Close()
	controlServer.Serve()

	logger.Info("tether agent ready",
		logging.String(logging.FieldEventType, "agent_ready"),
		logging.String("version", Version),
		logging.String("companion_socket", cfg.SocketPath()),
		logging.String("control_socket", cfg.ControlSocketPath()),
		logging.String("hub", cfg.Hub.ServerURI),
	)

	<-signalCtx.Done()
	logger.Info("tether agent shutting down")
	return nil
}

type components struct {
	daemon *daemon.Daemon
	auth   *auth.Authenticator
	router *router.Router
	hub    *hub.Client
}

// heartbeatFunc adapts a late-bound heartbeat to router.Heartbeater.
type heartbeatFunc func(ctx context.Context) error

func (f heartbeatFunc) Send(ctx context.Context) error { return f(ctx) }

func build(cfg *config.Config, store *failures.Store, logger *slog.Logger) (*components, error) {
	var verifier signing.Verifier
	if cfg.Agent.VerifySigners {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve agent executable: %w", err)
		}
		sameSigner, err := signing.NewSameSigner(exe)
		if err != nil {
			return nil, err
		}
		if !sameSigner.Enforcing() {
			logging.WarnWithContext(logger, "agent binary is unsigned; companion signer checks are skipped", "signer_check_disabled",
				logging.String("executable", exe),
				logging.String(logging.FieldErrorHint, "sign release builds with `tether sign`"),
			)
		}
		verifier = sameSigner
	}

	authn := auth.New(auth.Options{
		ExpectedPath:   cfg.Agent.CompanionPath,
		Development:    cfg.Agent.Development,
		DevelopmentDir: cfg.Agent.DevelopmentDir,
		Verifier:       verifier,
		Recorder:       store,
		MaxFailures:    cfg.Failures.MaxPerWindow,
		Window:         cfg.FailureWindow(),
		Logger:         logger,
	})

	reg := registry.New(logger)
	terminals := terminal.NewStore(terminal.Options{
		Shell:         cfg.Terminal.Shell,
		IdleTimeout:   cfg.TerminalIdleTimeout(),
		SweepInterval: cfg.TerminalSweepInterval(),
		InputTimeout:  cfg.TerminalInputTimeout(),
		Logger:        logger,
	})
	maint := maintenance.New(maintenance.Options{
		UninstallCommand: cfg.Agent.UninstallCmd,
		UpdateCommand:    cfg.Agent.UpdateCmd,
		InstanceID:       cfg.Agent.InstanceID,
		Lock:             mutationlock.NewFromConfig(cfg, logger),
		LockTimeout:      cfg.LockAcquireTimeout(),
		UpdateInterval:   cfg.UpdateCheckInterval(),
		Logger:           logger,
	})

	var heartbeat *hub.Heartbeat
	sendHeartbeat := func(ctx context.Context) error {
		if heartbeat == nil {
			return nil
		}
		return heartbeat.Send(ctx)
	}

	rtr := router.New(router.Options{
		Registry:    reg,
		Terminals:   terminals,
		Files:       filesystem.New(logger),
		Heartbeat:   heartbeatFunc(sendHeartbeat),
		Maintenance: maint,
		Recorder:    store,
		Limits: router.Limits{
			MaxChunkBytes:      cfg.Streaming.MaxChunkBytes,
			InteractiveTimeout: cfg.InteractiveTimeout(),
			TransferTimeout:    cfg.TransferTimeout(),
			PreviewQueueDepth:  cfg.Streaming.PreviewQueueDepth,
			DownloadQueueDepth: cfg.Streaming.DownloadQueueDepth,
			Compress:           cfg.Streaming.Compress,
		},
		Logger: logger,
	})

	hubClient, err := hub.New(hub.Options{
		ServerURI:         cfg.Hub.ServerURI,
		DeviceID:          cfg.Hub.DeviceID,
		Dispatcher:        rtr,
		OnConnect:         func(ctx context.Context) { _ = sendHeartbeat(ctx) },
		MaxReconnectDelay: time.Duration(cfg.Hub.MaxReconnectDelay) * time.Second,
		HandshakeTimeout:  time.Duration(cfg.Hub.HandshakeTimeout) * time.Second,
		MaxFrameBytes:     2 * int64(cfg.IPC.MaxFrameBytes),
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create hub client: %w", err)
	}
	terminals.SetSink(hubClient)

	dog := watchdog.New(watchdog.Options{
		Registry: reg,
		Interval: cfg.WatchdogInterval(),
		Logger:   logger,
	})

	services := []daemon.Service{
		{Name: "hub", Run: func(ctx context.Context) { _ = hubClient.Run(ctx) }},
		{Name: "watchdog", Run: dog.Run},
		{Name: "terminal-janitor", Run: terminals.Run},
		{Name: "heartbeat", Run: func(ctx context.Context) { heartbeat.Run(ctx) }},
	}
	if cfg.Agent.AutoUpdate {
		services = append(services, daemon.Service{Name: "auto-update", Run: maint.RunAutoUpdate})
	}

	d, err := daemon.New(daemon.Options{
		Config:    cfg,
		Registry:  reg,
		Terminals: terminals,
		Failures:  store,
		Hub:       hubClient,
		Version:   Version,
		Logger:    logger,
		Services:  services,
	})
	if err != nil {
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	heartbeat = hub.NewHeartbeat(hubClient, d.DeviceReport, cfg.HeartbeatInterval(), nil, logger)

	return &components{daemon: d, auth: authn, router: rtr, hub: hubClient}, nil
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.RunAll(ctx, cfg) {
		if result.Passed {
			logger.Info("preflight check passed",
				logging.String(logging.FieldEventType, "preflight_passed"),
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "related agent features may not work"),
			logging.String(logging.FieldErrorHint, "run `tether config validate` for the full report"),
		)
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "tetherd.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
