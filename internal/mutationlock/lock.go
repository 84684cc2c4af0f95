package mutationlock

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"tether/internal/clock"
	"tether/internal/config"
	"tether/internal/faults"
	"tether/internal/logging"
)

// BaseName is the lock identity shared by the agent, its updater, and the
// installer.
const BaseName = "tether.mutation"

// DefaultPollInterval is how often the OS primitive is retried.
const DefaultPollInterval = 200 * time.Millisecond

// Name returns the lock identity for an installation instance.
func Name(instanceID string) string {
	if instanceID == "" {
		return BaseName
	}
	return BaseName + "." + instanceID
}

// FilePath returns the lock file used on platforms without named mutexes.
func FilePath(lockDir, instanceID string) string {
	if instanceID == "" {
		return filepath.Join(lockDir, BaseName+".lock")
	}
	return filepath.Join(lockDir, instanceID, BaseName+".lock")
}

// primitive is the cross-process half of the lock.
type primitive interface {
	TryLock() (bool, error)
	Unlock() error
}

// Options configures a Lock.
type Options struct {
	InstanceID   string
	LockDir      string
	PollInterval time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Lock serializes mutations within this process and across processes.
type Lock struct {
	name   string
	path   string
	poll   time.Duration
	clock  clock.Clock
	logger *slog.Logger
	guard  chan struct{}

	newPrimitive func() (primitive, error)
}

// New constructs a Lock. Nothing is held until Acquire.
func New(opts Options) *Lock {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	l := &Lock{
		name:   Name(opts.InstanceID),
		path:   FilePath(opts.LockDir, opts.InstanceID),
		poll:   poll,
		clock:  clock.OrReal(opts.Clock),
		logger: logging.NewComponentLogger(opts.Logger, "mutation-lock"),
		guard:  make(chan struct{}, 1),
	}
	l.newPrimitive = func() (primitive, error) { return newOSPrimitive(l.name, l.path) }
	return l
}

// NewFromConfig builds the installation's mutation lock.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Lock {
	return New(Options{
		InstanceID:   cfg.Agent.InstanceID,
		LockDir:      cfg.Paths.LockDir,
		PollInterval: cfg.LockPollInterval(),
		Logger:       logger,
	})
}

// Name returns the lock identity.
func (l *Lock) Name() string { return l.name }

// Acquire blocks until the lock is held or ctx is done.
func (l *Lock) Acquire(ctx context.Context) (*Token, error) {
	select {
	case l.guard <- struct{}{}:
	case <-ctx.Done():
		return nil, faults.Wrap(faults.ErrLockContention, "mutation-lock", "acquire", "waiting for in-process holder", ctx.Err())
	}

	prim, err := l.newPrimitive()
	if err != nil {
		<-l.guard
		return nil, faults.Wrap(faults.ErrUnexpected, "mutation-lock", "acquire", "open lock primitive", err)
	}

	start := l.clock.Now()
	for {
		locked, err := prim.TryLock()
		if err != nil {
			_ = prim.Unlock()
			<-l.guard
			return nil, faults.Wrap(faults.ErrUnexpected, "mutation-lock", "acquire", "lock primitive failed", err)
		}
		if locked {
			l.logger.Debug("mutation lock acquired",
				logging.String("lock", l.name),
				logging.Duration("waited", l.clock.Now().Sub(start)),
			)
			return &Token{lock: l, prim: prim}, nil
		}
		select {
		case <-l.clock.After(l.poll):
		case <-ctx.Done():
			_ = prim.Unlock()
			<-l.guard
			return nil, faults.Wrap(faults.ErrLockContention, "mutation-lock", "acquire",
				fmt.Sprintf("held by another process after %s", l.clock.Now().Sub(start).Round(time.Millisecond)), ctx.Err())
		}
	}
}

// TryAcquire waits at most timeout. It returns nil, false when the lock
// could not be taken in time; it never returns an error.
func (l *Lock) TryAcquire(ctx context.Context, timeout time.Duration) (*Token, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	token, err := l.Acquire(ctx)
	if err != nil {
		l.logger.Info("mutation lock not acquired",
			logging.String("lock", l.name),
			logging.Duration("timeout", timeout),
			logging.String("reason", err.Error()),
			logging.String(logging.FieldEventType, "mutation_lock_busy"),
		)
		return nil, false
	}
	return token, true
}

// Token proves the lock is held.
type Token struct {
	lock *Lock
	prim primitive
	once sync.Once
}

// Release drops the OS primitive and then the in-process guard. Calling it
// more than once is a no-op.
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		if err := t.prim.Unlock(); err != nil {
			logging.WarnWithContext(t.lock.logger, "mutation lock release failed", "mutation_lock_release_failed",
				logging.String("lock", t.lock.name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "other processes may wait until this process exits"),
			)
		}
		<-t.lock.guard
	})
}
