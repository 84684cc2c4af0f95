package terminal

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"tether/internal/clock"
	"tether/internal/faults"
	"tether/internal/logging"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultIdleTimeout   = 10 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultInputTimeout  = 5 * time.Second
)

// Options configures a Store.
type Options struct {
	Shell         string
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	InputTimeout  time.Duration
	Start         Starter
	Sink          OutputSink
	Clock         clock.Clock
	Logger        *slog.Logger
}

// Store holds live terminal sessions keyed by terminal ID.
type Store struct {
	opts   Options
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore constructs an empty Store.
func NewStore(opts Options) *Store {
	if opts.Shell == "" {
		opts.Shell = DefaultShell()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.InputTimeout <= 0 {
		opts.InputTimeout = DefaultInputTimeout
	}
	if opts.Start == nil {
		opts.Start = defaultStarter()
	}
	return &Store{
		opts:     opts,
		clock:    clock.OrReal(opts.Clock),
		logger:   logging.NewComponentLogger(opts.Logger, "terminal"),
		sessions: make(map[string]*Session),
	}
}

// SetSink replaces the output sink used by sessions created afterwards.
func (s *Store) SetSink(sink OutputSink) {
	s.mu.Lock()
	s.opts.Sink = sink
	s.mu.Unlock()
}

// CreateSession starts a shell for viewerID under id. An existing session
// with the same id is evicted first.
func (s *Store) CreateSession(ctx context.Context, id, viewerID string) (Kind, error) {
	if id == "" {
		return "", faults.Wrap(faults.ErrValidation, "terminal", "create session", "terminal id is required", nil)
	}
	rt, err := s.opts.Start(ctx, s.opts.Shell)
	if err != nil {
		logging.ErrorWithContext(s.logger, "terminal runtime failed to start", "terminal_start_failed",
			logging.String(logging.FieldSessionID, id),
			logging.String("shell", s.opts.Shell),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check terminal.shell in the config"),
		)
		return "", faults.Wrap(faults.ErrUnexpected, "terminal", "create session", "start shell", err)
	}

	session := newSession(id, viewerID, rt, s.clock.Now(), s.logger)

	s.mu.Lock()
	previous := s.sessions[id]
	s.sessions[id] = session
	sink := s.opts.Sink
	s.mu.Unlock()

	if previous != nil {
		previous.Dispose()
	}

	go session.forward(sink)
	go s.watchExit(session)

	s.logger.Info("terminal session created",
		logging.String(logging.FieldSessionID, id),
		logging.String("viewer_id", viewerID),
		logging.String("kind", string(rt.Kind())),
		logging.String(logging.FieldEventType, "terminal_created"),
	)
	return rt.Kind(), nil
}

// watchExit evicts session as soon as its shell exits.
func (s *Store) watchExit(session *Session) {
	select {
	case <-session.Exited():
		if s.evict(session) {
			s.logger.Info("terminal session exited",
				logging.String(logging.FieldSessionID, session.ID),
				logging.String(logging.FieldEventType, "terminal_exited"),
			)
		}
	case <-session.ctx.Done():
	}
}

// evict removes session if it is still the live entry for its ID, then
// disposes it.
func (s *Store) evict(session *Session) bool {
	s.mu.Lock()
	current, ok := s.sessions[session.ID]
	removed := ok && current == session
	if removed {
		delete(s.sessions, session.ID)
	}
	s.mu.Unlock()
	session.Dispose()
	return removed
}

// TryRemove removes the session without disposing it.
func (s *Store) TryRemove(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	return session, ok
}

// Get returns the live session for id and resets its idle timer.
func (s *Store) Get(id string) (*Session, bool) {
	now := s.clock.Now()
	s.mu.Lock()
	session, ok := s.sessions[id]
	expired := ok && (session.Disposed() || session.idleSince(now) >= s.opts.IdleTimeout)
	if expired {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if expired {
		session.Dispose()
		return nil, false
	}
	if !ok {
		return nil, false
	}
	session.touch(now)
	return session, true
}

// WriteInput sends input to the shell behind id. Writes are serialized per
// session; timeout bounds both the wait for the writer slot and the write
// itself. Zero uses the configured default.
func (s *Store) WriteInput(ctx context.Context, id, input string, timeout time.Duration) error {
	session, ok := s.Get(id)
	if !ok {
		s.logger.Warn("terminal session not found",
			logging.String(logging.FieldSessionID, id),
			logging.String(logging.FieldEventType, "terminal_not_found"),
			logging.String(logging.FieldImpact, "input dropped"),
		)
		return faults.Wrap(faults.ErrNotFound, "terminal", "write input", "terminal session "+id, nil)
	}
	if timeout <= 0 {
		timeout = s.opts.InputTimeout
	}
	return session.write(ctx, []byte(input), timeout)
}

// Sweep evicts sessions idle for at least the idle timeout and returns how
// many were evicted.
func (s *Store) Sweep() int {
	now := s.clock.Now()
	s.mu.Lock()
	var expired []*Session
	for id, session := range s.sessions {
		if session.idleSince(now) >= s.opts.IdleTimeout || session.Disposed() {
			delete(s.sessions, id)
			expired = append(expired, session)
		}
	}
	s.mu.Unlock()

	for _, session := range expired {
		session.Dispose()
		s.logger.Info("terminal session expired",
			logging.String(logging.FieldSessionID, session.ID),
			logging.Duration("idle_timeout", s.opts.IdleTimeout),
			logging.String(logging.FieldEventType, "terminal_expired"),
		)
	}
	return len(expired)
}

// Run sweeps on the configured interval until ctx is canceled, then
// disposes every remaining session.
func (s *Store) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.DisposeAll()
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// DisposeAll removes and disposes every session.
func (s *Store) DisposeAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	for _, session := range sessions {
		session.Dispose()
	}
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// List returns session descriptions ordered by creation time.
func (s *Store) List() []Info {
	s.mu.Lock()
	infos := make([]Info, 0, len(s.sessions))
	for _, session := range s.sessions {
		infos = append(infos, session.info())
	}
	s.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}
