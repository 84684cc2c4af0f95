package hub

import (
	"context"
	"log/slog"
	"time"

	"tether/internal/clock"
	"tether/internal/logging"
)

// DefaultHeartbeatInterval is the device heartbeat cadence.
const DefaultHeartbeatInterval = 5 * time.Minute

// Caller is the subset of Client the heartbeat needs.
type Caller interface {
	Connected() bool
	Call(ctx context.Context, method string, params, result any) error
}

// Heartbeat periodically reports device state to the hub.
type Heartbeat struct {
	caller   Caller
	collect  func(ctx context.Context) DeviceReport
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

// NewHeartbeat builds a heartbeat that reports collect's snapshot.
func NewHeartbeat(caller Caller, collect func(ctx context.Context) DeviceReport, interval time.Duration, clk clock.Clock, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{
		caller:   caller,
		collect:  collect,
		interval: interval,
		clock:    clock.OrReal(clk),
		logger:   logging.NewComponentLogger(logger, "heartbeat"),
	}
}

// Run sends a heartbeat every interval until ctx is canceled.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = h.Send(ctx)
		}
	}
}

// Send reports the current device state once. Failures are logged and
// returned; a disconnected hub is skipped quietly.
func (h *Heartbeat) Send(ctx context.Context) error {
	if !h.caller.Connected() {
		h.logger.Debug("skipping heartbeat while disconnected")
		return nil
	}
	report := h.collect(ctx)
	var ack DeviceAck
	callCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := h.caller.Call(callCtx, MethodUpdateDevice, report, &ack); err != nil {
		logging.WarnWithContext(h.logger, "device heartbeat failed", "heartbeat_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "hub shows stale device state until the next heartbeat"),
		)
		return err
	}
	if ack.DeviceID != "" && ack.DeviceID != report.DeviceID {
		logging.WarnWithContext(h.logger, "hub assigned a different device id", "heartbeat_device_id_changed",
			logging.String("configured", report.DeviceID),
			logging.String("assigned", ack.DeviceID),
			logging.String(logging.FieldErrorHint, "set hub.device_id to the assigned value"),
		)
	}
	h.logger.Debug("heartbeat sent",
		logging.Int("companion_sessions", len(report.CompanionSessions)),
		logging.Int("terminal_sessions", report.TerminalSessions),
	)
	return nil
}
