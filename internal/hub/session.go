package hub

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tether/internal/stream"
)

// session is one websocket connection to the hub.
type session struct {
	conn *websocket.Conn
	ctx  context.Context
	stop context.CancelFunc

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Frame
	calls   map[string]*Call

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(parent context.Context, conn *websocket.Conn) *session {
	ctx, stop := context.WithCancel(parent)
	return &session{
		conn:    conn,
		ctx:     ctx,
		stop:    stop,
		pending: make(map[string]chan Frame),
		calls:   make(map[string]*Call),
		done:    make(chan struct{}),
	}
}

func (s *session) write(ctx context.Context, frame Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrDisconnected
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	// The caller's deadline only gates starting the frame. The socket
	// deadline is shared by every call on the session.
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(frame); err != nil {
		s.close()
		return err
	}
	return nil
}

func (s *session) expect(id string) <-chan Frame {
	ch := make(chan Frame, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	return ch
}

func (s *session) forget(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *session) deliver(frame Frame) {
	s.mu.Lock()
	ch, ok := s.pending[frame.ID]
	delete(s.pending, frame.ID)
	s.mu.Unlock()
	if ok {
		ch <- frame
	}
}

// openCall registers an inbound call. Calls with an ID get an unbounded
// inbound queue for upload frames and can be canceled by the hub.
func (s *session) openCall(frame Frame) *Call {
	ctx, cancel := context.WithCancel(s.ctx)
	call := &Call{
		ID:      frame.ID,
		Method:  frame.Method,
		Params:  frame.Params,
		ctx:     ctx,
		cancel:  cancel,
		session: s,
	}
	if frame.ID == "" {
		return call
	}
	call.inbound = stream.NewQueue[Frame](0)
	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		cancel()
		call.inbound.Close(ErrDisconnected)
		return call
	}
	s.calls[frame.ID] = call
	s.mu.Unlock()
	return call
}

func (s *session) finishCall(call *Call) {
	call.cancel()
	if call.ID == "" {
		return
	}
	s.mu.Lock()
	if current, ok := s.calls[call.ID]; ok && current == call {
		delete(s.calls, call.ID)
	}
	s.mu.Unlock()
	call.inbound.Close(nil)
}

func (s *session) pushInbound(frame Frame) bool {
	s.mu.Lock()
	call, ok := s.calls[frame.ID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	if err := call.inbound.Push(s.ctx, frame); err != nil {
		return false
	}
	if frame.Type == FrameEnd {
		call.inbound.Close(nil)
	}
	return true
}

func (s *session) cancelCall(id string) {
	s.mu.Lock()
	call, ok := s.calls[id]
	s.mu.Unlock()
	if ok {
		call.cancel()
	}
}

func (s *session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.stop()
		_ = s.conn.Close()

		s.mu.Lock()
		calls := s.calls
		s.calls = make(map[string]*Call)
		s.mu.Unlock()
		for _, call := range calls {
			call.inbound.Close(ErrDisconnected)
		}
	})
}
