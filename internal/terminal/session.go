package terminal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"tether/internal/faults"
	"tether/internal/logging"
)

const outputBufferSize = 4096

// OutputSink receives shell output destined for a viewer.
type OutputSink interface {
	SendTerminalOutput(ctx context.Context, terminalID, viewerID string, output []byte) error
}

// Session is one remote shell.
type Session struct {
	ID        string
	ViewerID  string
	CreatedAt time.Time

	runtime Runtime
	ctx     context.Context
	cancel  context.CancelFunc
	// writer admits one input write at a time.
	writer chan struct{}
	logger *slog.Logger

	mu          sync.Mutex
	lastAccess  time.Time
	disposed    bool
	disposeOnce sync.Once
}

// Info is a point-in-time description of a session.
type Info struct {
	ID         string    `json:"id"`
	ViewerID   string    `json:"viewer_id"`
	Kind       Kind      `json:"kind"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
}

func newSession(id, viewerID string, rt Runtime, now time.Time, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:         id,
		ViewerID:   viewerID,
		CreatedAt:  now,
		runtime:    rt,
		ctx:        ctx,
		cancel:     cancel,
		writer:     make(chan struct{}, 1),
		logger:     logger.With(logging.String(logging.FieldSessionID, id)),
		lastAccess: now,
	}
}

// Kind reports the runtime kind.
func (s *Session) Kind() Kind { return s.runtime.Kind() }

// Exited is closed when the shell exits.
func (s *Session) Exited() <-chan struct{} { return s.runtime.Done() }

// Disposed reports whether Dispose has run.
func (s *Session) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Dispose stops the shell and output forwarding. Only the first call has an
// effect.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() {
		s.mu.Lock()
		s.disposed = true
		s.mu.Unlock()
		s.cancel()
		if err := s.runtime.Close(); err != nil {
			s.logger.Debug("terminal runtime close failed", logging.Error(err))
		}
		s.logger.Info("terminal session disposed",
			logging.String(logging.FieldEventType, "terminal_disposed"),
		)
	})
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:         s.ID,
		ViewerID:   s.ViewerID,
		Kind:       s.runtime.Kind(),
		CreatedAt:  s.CreatedAt,
		LastAccess: s.lastAccess,
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastAccess = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastAccess)
}

// write sends input to the shell, giving up after timeout. A write that is
// still blocked when the deadline passes keeps the writer slot until it
// finishes, so later writes also time out rather than interleave.
func (s *Session) write(ctx context.Context, input []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return faults.FromContext("terminal", "write input", ctx.Err())
	}

	result := make(chan error, 1)
	go func() {
		defer func() { <-s.writer }()
		_, err := s.runtime.Write(input)
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil {
			return faults.Wrap(faults.ErrUnexpected, "terminal", "write input", "shell rejected input", err)
		}
		return nil
	case <-ctx.Done():
		return faults.FromContext("terminal", "write input", ctx.Err())
	}
}

// forward copies shell output to sink until the shell exits or the session
// is disposed.
func (s *Session) forward(sink OutputSink) {
	buf := make([]byte, outputBufferSize)
	reader := s.runtime.Output()
	for {
		n, err := reader.Read(buf)
		if n > 0 && sink != nil {
			chunk := append([]byte(nil), buf[:n]...)
			if sendErr := sink.SendTerminalOutput(s.ctx, s.ID, s.ViewerID, chunk); sendErr != nil && s.ctx.Err() == nil {
				logging.WarnWithContext(s.logger, "terminal output not delivered", "terminal_output_failed",
					logging.Error(sendErr),
					logging.String(logging.FieldImpact, "viewer misses part of the shell output"),
				)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				s.logger.Debug("terminal output stream ended", logging.Error(err))
			}
			return
		}
	}
}
