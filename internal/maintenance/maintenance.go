package maintenance

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"tether/internal/clock"
	"tether/internal/faults"
	"tether/internal/logging"
	"tether/internal/mutationlock"
)

// Locker hands out the mutation lock.
type Locker interface {
	TryAcquire(ctx context.Context, timeout time.Duration) (*mutationlock.Token, bool)
}

// RunFunc executes a command and returns its combined output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Options configures a Runner.
type Options struct {
	// UninstallCommand and UpdateCommand are split on whitespace. The
	// instance ID, when set, is appended as "-i <instance>".
	UninstallCommand string
	UpdateCommand    string
	InstanceID       string
	Lock             Locker
	LockTimeout      time.Duration
	// UpdateLockTimeout bounds the lock wait of update runs, which are
	// retried on the next interval rather than queued.
	UpdateLockTimeout time.Duration
	UpdateInterval    time.Duration
	Run               RunFunc
	Clock             clock.Clock
	Logger            *slog.Logger
}

// Runner executes maintenance commands.
type Runner struct {
	opts   Options
	clock  clock.Clock
	logger *slog.Logger
}

// New constructs a Runner.
func New(opts Options) *Runner {
	if opts.Run == nil {
		opts.Run = runCommand
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 2 * time.Minute
	}
	if opts.UpdateLockTimeout <= 0 {
		opts.UpdateLockTimeout = 5 * time.Second
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = 6 * time.Hour
	}
	return &Runner{
		opts:   opts,
		clock:  clock.OrReal(opts.Clock),
		logger: logging.NewComponentLogger(opts.Logger, "maintenance"),
	}
}

// operation describes one lock-guarded command.
type operation struct {
	name        string
	command     string
	setting     string
	lockTimeout time.Duration
	impact      string
}

// Uninstall runs the configured uninstall command under the mutation lock.
func (r *Runner) Uninstall(ctx context.Context) error {
	return r.runLocked(ctx, operation{
		name:        "uninstall",
		command:     r.opts.UninstallCommand,
		setting:     "agent.uninstall_command",
		lockTimeout: r.opts.LockTimeout,
		impact:      "agent stays installed",
	})
}

// Update runs the configured update command under the mutation lock. The
// installer it launches replaces both the agent and the companion binary.
func (r *Runner) Update(ctx context.Context) error {
	return r.runLocked(ctx, operation{
		name:        "update",
		command:     r.opts.UpdateCommand,
		setting:     "agent.update_command",
		lockTimeout: r.opts.UpdateLockTimeout,
		impact:      "agent keeps running the current version",
	})
}

// RunAutoUpdate updates once immediately and then every UpdateInterval
// until ctx is canceled. Failures are logged and retried on the next tick.
func (r *Runner) RunAutoUpdate(ctx context.Context) {
	if strings.TrimSpace(r.opts.UpdateCommand) == "" {
		logging.WarnWithContext(r.logger, "auto-update enabled without an update command", "auto_update_disabled",
			logging.String(logging.FieldImpact, "agent is never updated automatically"),
			logging.String(logging.FieldErrorHint, "set agent.update_command or disable agent.auto_update"),
		)
		return
	}
	ticker := r.clock.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()
	for {
		_ = r.Update(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) runLocked(ctx context.Context, op operation) error {
	fields := strings.Fields(op.command)
	if len(fields) == 0 {
		logging.WarnWithContext(r.logger, op.name+" requested but no command is configured", op.name+"_skipped",
			logging.String(logging.FieldImpact, op.impact),
			logging.String(logging.FieldErrorHint, "set "+op.setting),
		)
		return faults.Wrap(faults.ErrValidation, "maintenance", op.name, op.name+" command not configured", nil)
	}
	if r.opts.InstanceID != "" {
		fields = append(fields, "-i", r.opts.InstanceID)
	}

	if r.opts.Lock != nil {
		token, ok := r.opts.Lock.TryAcquire(ctx, op.lockTimeout)
		if !ok {
			logging.WarnWithContext(r.logger, op.name+" skipped; mutation lock busy", op.name+"_lock_busy",
				logging.Duration("timeout", op.lockTimeout),
				logging.String(logging.FieldImpact, op.impact),
				logging.String(logging.FieldErrorHint, "another installer or updater is running; retry later"),
			)
			return faults.Wrap(faults.ErrLockContention, "maintenance", op.name, "mutation lock busy", nil)
		}
		defer token.Release()
	}

	r.logger.Info("running "+op.name,
		logging.String("command", strings.Join(fields, " ")),
		logging.String(logging.FieldEventType, op.name+"_started"),
	)
	output, err := r.opts.Run(ctx, fields[0], fields[1:]...)
	if err != nil {
		logging.ErrorWithContext(r.logger, op.name+" command failed", op.name+"_failed",
			logging.Error(err),
			logging.String("output", strings.TrimSpace(string(output))),
			logging.String(logging.FieldErrorHint, "run the "+op.name+" command manually to see the full error"),
		)
		return faults.Wrap(faults.ErrUnexpected, "maintenance", op.name, op.name+" command failed", err)
	}
	r.logger.Info(op.name+" completed",
		logging.String(logging.FieldEventType, op.name+"_completed"),
	)
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}
