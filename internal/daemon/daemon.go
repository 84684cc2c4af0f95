package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"tether/internal/auth"
	"tether/internal/clock"
	"tether/internal/config"
	"tether/internal/failures"
	"tether/internal/hub"
	"tether/internal/ipc"
	"tether/internal/logging"
	"tether/internal/process"
	"tether/internal/registry"
	"tether/internal/terminal"
)

const pruneInterval = time.Hour

// HubLink reports whether the hub session is up.
type HubLink interface {
	Connected() bool
}

// Service is a background loop that runs until its context is canceled.
type Service struct {
	Name string
	Run  func(ctx context.Context)
}

// Options wires the daemon to its components.
type Options struct {
	Config    *config.Config
	Registry  *registry.Registry
	Terminals *terminal.Store
	Failures  *failures.Store
	Hub       HubLink
	Version   string
	Services  []Service
	// OpenProcess watches a companion process; defaults to process.Open.
	OpenProcess func(pid int) (process.Handle, error)
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	opts   Options
	cfg    *config.Config
	clock  clock.Clock
	logger *slog.Logger

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running           bool
	PID               int
	Version           string
	InstanceID        string
	DeviceID          string
	HubURI            string
	HubConnected      bool
	Companions        int
	Terminals         int
	StartedAt         time.Time
	LockPath          string
	SocketPath        string
	ControlSocketPath string
	FailuresDBPath    string
}

// Companion describes one registered companion process.
type Companion struct {
	PID         int
	ConnectedAt time.Time
	Connected   bool
}

// New constructs a daemon around already-built components.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Registry == nil || opts.Terminals == nil {
		return nil, errors.New("daemon requires config, registry, and terminal store")
	}
	if opts.OpenProcess == nil {
		opts.OpenProcess = process.Open
	}
	lockPath := opts.Config.DaemonLockPath()
	return &Daemon{
		opts:     opts,
		cfg:      opts.Config,
		clock:    clock.OrReal(opts.Clock),
		logger:   logging.NewComponentLogger(opts.Logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tether daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.startedAt = d.clock.Now()

	services := d.opts.Services
	if d.opts.Failures != nil {
		services = append(services, Service{Name: "failure-prune", Run: d.pruneFailures})
	}
	for _, svc := range services {
		d.wg.Add(1)
		go func(svc Service) {
			defer d.wg.Done()
			d.logger.Debug("service started", logging.String("service", svc.Name))
			svc.Run(runCtx)
			d.logger.Debug("service stopped", logging.String("service", svc.Name))
		}(svc)
	}

	d.running.Store(true)
	d.logger.Info("tether daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Int("services", len(services)),
	)
	return nil
}

// Stop cancels the background services, waits for them, and releases the
// daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_unlock_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "next start may report another running instance"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("tether daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and releases the failure store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.opts.Failures != nil {
		return d.opts.Failures.Close()
	}
	return nil
}

// AttachCompanion registers an authenticated companion channel. It matches
// the ipc server's companion callback.
func (d *Daemon) AttachCompanion(ctx context.Context, conn *ipc.Conn, creds auth.Credentials) {
	proc, err := d.opts.OpenProcess(creds.PID)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, d.logger), "cannot watch companion process", "companion_watch_failed",
			logging.Int(logging.FieldPID, creds.PID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "companion connection closed"),
		)
		_ = conn.Close()
		return
	}
	d.opts.Registry.AddServer(proc, conn)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:           d.running.Load(),
		PID:               os.Getpid(),
		Version:           d.opts.Version,
		InstanceID:        d.cfg.Agent.InstanceID,
		DeviceID:          d.cfg.Hub.DeviceID,
		HubURI:            d.cfg.Hub.ServerURI,
		Companions:        d.opts.Registry.Len(),
		Terminals:         d.opts.Terminals.Len(),
		LockPath:          d.lockPath,
		SocketPath:        d.cfg.SocketPath(),
		ControlSocketPath: d.cfg.ControlSocketPath(),
		FailuresDBPath:    d.cfg.FailuresDBPath(),
	}
	if status.Running {
		status.StartedAt = d.startedAt
	}
	if d.opts.Hub != nil {
		status.HubConnected = d.opts.Hub.Connected()
	}
	return status
}

// Sessions lists registered companions ordered by PID.
func (d *Daemon) Sessions() []Companion {
	records := d.opts.Registry.Servers()
	out := make([]Companion, 0, len(records))
	for _, record := range records {
		out = append(out, Companion{
			PID:         record.PID,
			ConnectedAt: record.Connected,
			Connected:   record.Endpoint.Connected(),
		})
	}
	return out
}

// Terminals lists live terminal sessions.
func (d *Daemon) Terminals() []terminal.Info {
	return d.opts.Terminals.List()
}

// Failures lists persisted failure reports, newest first.
func (d *Daemon) Failures(ctx context.Context, opts failures.ListOptions) ([]failures.Report, error) {
	if d.opts.Failures == nil {
		return nil, errors.New("failure store unavailable")
	}
	return d.opts.Failures.List(ctx, opts)
}

// DeviceReport builds the heartbeat payload.
func (d *Daemon) DeviceReport(context.Context) hub.DeviceReport {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	sessions := []hub.CompanionSession{}
	for _, companion := range d.Sessions() {
		sessions = append(sessions, hub.CompanionSession{
			PID:         companion.PID,
			ConnectedAt: companion.ConnectedAt.UTC().Format(time.RFC3339),
		})
	}
	return hub.DeviceReport{
		DeviceID:          d.cfg.Hub.DeviceID,
		InstanceID:        d.cfg.Agent.InstanceID,
		Hostname:          hostname,
		OS:                runtime.GOOS,
		Arch:              runtime.GOARCH,
		AgentVersion:      d.opts.Version,
		CompanionSessions: sessions,
		TerminalSessions:  d.opts.Terminals.Len(),
	}
}

func (d *Daemon) pruneFailures(ctx context.Context) {
	retention := time.Duration(d.cfg.Failures.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		return
	}
	prune := func() {
		removed, err := d.opts.Failures.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				logging.WarnWithContext(d.logger, "failure report prune failed", "failures_prune_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "old failure reports remain on disk"),
				)
			}
			return
		}
		if removed > 0 {
			d.logger.Info("pruned failure reports",
				logging.String(logging.FieldEventType, "failures_pruned"),
				logging.Int64("removed", removed),
			)
		}
	}

	prune()
	ticker := d.clock.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
