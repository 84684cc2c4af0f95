package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tether/internal/clock"
	"tether/internal/logging"
	"tether/internal/registry"
)

// DefaultInterval is the sweep period used when none is configured.
const DefaultInterval = 500 * time.Millisecond

// Options configures a Watchdog.
type Options struct {
	Registry *registry.Registry
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Watchdog periodically evicts companion records whose process has exited or
// whose channel has dropped.
type Watchdog struct {
	registry *registry.Registry
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

// New constructs a watchdog over reg.
func New(opts Options) *Watchdog {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watchdog{
		registry: opts.Registry,
		interval: interval,
		clock:    clock.OrReal(opts.Clock),
		logger:   logging.NewComponentLogger(opts.Logger, "watchdog"),
	}
}

// Run sweeps the registry every interval until ctx is canceled, then shuts
// down every remaining companion.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Debug("session watchdog started", logging.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.registry.KillAllServers(ctx, "agent shutting down")
			w.logger.Debug("session watchdog stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep checks every record once and returns how many were evicted.
func (w *Watchdog) Sweep(ctx context.Context) int {
	evicted := 0
	for _, record := range w.registry.Servers() {
		if ctx.Err() != nil {
			break
		}
		stale, reason, err := w.check(record)
		if err != nil {
			logging.ErrorWithContext(w.logger, "companion health check failed", "watchdog_check_failed",
				logging.Int(logging.FieldPID, record.PID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "record kept until the next sweep"),
			)
			continue
		}
		if !stale {
			continue
		}
		if w.registry.Remove(record) {
			evicted++
			w.logger.Info("companion evicted",
				logging.Int(logging.FieldPID, record.PID),
				logging.String("reason", reason),
				logging.String(logging.FieldEventType, "companion_evicted"),
			)
		}
	}
	return evicted
}

func (w *Watchdog) check(record registry.Record) (stale bool, reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if record.Process == nil || record.Process.Exited() {
		return true, "process exited", nil
	}
	if record.Endpoint == nil || !record.Endpoint.Connected() {
		return true, "channel disconnected", nil
	}
	return false, "", nil
}
