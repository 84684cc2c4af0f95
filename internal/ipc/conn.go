package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"tether/internal/codec"
	"tether/internal/faults"
	"tether/internal/logging"
)

// Handler serves an inbound invoke or send envelope. For invokes the
// returned value becomes the response payload.
type Handler func(ctx context.Context, env Envelope) (any, error)

// ErrClosed is returned by calls on a channel that has shut down.
var ErrClosed = errors.New("channel closed")

// Conn is one end of a companion channel. Both the agent and a companion use
// it; calls may be issued concurrently.
type Conn struct {
	conn     net.Conn
	maxFrame int
	handler  Handler
	logger   *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Envelope

	closed    chan struct{}
	closeOnce sync.Once
}

// ConnOptions configures a Conn.
type ConnOptions struct {
	MaxFrameBytes int
	Handler       Handler
	Logger        *slog.Logger
}

// NewConn wraps conn. Call Serve to start reading.
func NewConn(conn net.Conn, opts ConnOptions) *Conn {
	handler := opts.Handler
	if handler == nil {
		handler = func(context.Context, Envelope) (any, error) { return nil, nil }
	}
	maxFrame := opts.MaxFrameBytes
	if maxFrame <= 0 {
		maxFrame = 16 << 20
	}
	return &Conn{
		conn:     conn,
		maxFrame: maxFrame,
		handler:  handler,
		logger:   logging.NewComponentLogger(opts.Logger, "ipc"),
		pending:  make(map[string]chan Envelope),
		closed:   make(chan struct{}),
	}
}

// Serve reads frames until the connection fails or ctx is done. It always
// closes the channel before returning.
func (c *Conn) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.Close()

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.closed:
		}
	}()

	for {
		var env Envelope
		if err := codec.ReadFrame(c.conn, c.maxFrame, &env); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || c.isClosed() {
				return nil
			}
			return fmt.Errorf("read envelope: %w", err)
		}
		switch env.Kind {
		case KindResponse:
			c.deliver(env)
		case KindInvoke, KindSend:
			go c.dispatch(ctx, env)
		default:
			logging.WarnWithContext(c.logger, "ignoring envelope with unknown kind", "ipc_unknown_kind",
				logging.String("kind", string(env.Kind)),
				logging.String("type", env.Type),
				logging.String(logging.FieldImpact, "message dropped"),
			)
		}
	}
}

func (c *Conn) dispatch(ctx context.Context, env Envelope) {
	if env.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(env.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	result, err := c.safeHandle(ctx, env)
	if env.Kind != KindInvoke {
		if err != nil {
			logging.WarnWithContext(c.logger, "message handler failed", "ipc_handler_failed",
				logging.String("type", env.Type),
				logging.Error(err),
			)
		}
		return
	}

	reply := Envelope{Type: env.Type, ID: env.ID, Kind: KindResponse}
	if err != nil {
		reply.Error = faults.PublicReason(err)
	} else if result != nil {
		payload, encErr := codec.Marshal(result)
		if encErr != nil {
			reply.Error = faults.PublicReason(faults.Wrap(faults.ErrUnexpected, "ipc", env.Type, "encode reply", encErr))
		} else {
			reply.Payload = payload
		}
	}
	if err := c.write(reply); err != nil && !c.isClosed() {
		logging.WarnWithContext(c.logger, "reply write failed", "ipc_reply_failed",
			logging.String("type", env.Type),
			logging.Error(err),
		)
	}
}

func (c *Conn) safeHandle(ctx context.Context, env Envelope) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = faults.Wrap(faults.ErrUnexpected, "ipc", env.Type, fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()
	return c.handler(ctx, env)
}

func (c *Conn) deliver(env Envelope) {
	c.mu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- env
	}
}

// Invoke sends a request and decodes the reply payload into result, which
// may be nil.
func (c *Conn) Invoke(ctx context.Context, method string, params, result any) error {
	payload, err := codec.Marshal(params)
	if err != nil {
		return faults.Wrap(faults.ErrValidation, "ipc", method, "encode request", err)
	}
	env := Envelope{Type: method, ID: uuid.NewString(), Kind: KindInvoke, Payload: payload}
	if deadline, ok := ctx.Deadline(); ok {
		env.TimeoutMS = max(time.Until(deadline).Milliseconds(), 1)
	}

	reply := make(chan Envelope, 1)
	c.mu.Lock()
	c.pending[env.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.ID)
		c.mu.Unlock()
	}()

	if err := c.write(env); err != nil {
		return err
	}

	select {
	case resp := <-reply:
		if resp.Error != "" {
			return faults.Wrap(faults.ErrUnexpected, "ipc", method, resp.Error, nil)
		}
		if result != nil {
			if err := resp.Decode(result); err != nil {
				return faults.Wrap(faults.ErrUnexpected, "ipc", method, "decode reply", err)
			}
		}
		return nil
	case <-ctx.Done():
		return faults.FromContext("ipc", method, ctx.Err())
	case <-c.closed:
		return faults.Wrap(faults.ErrTargetNotRunning, "ipc", method, "channel closed", ErrClosed)
	}
}

// Notify sends a fire-and-forget message.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	payload, err := codec.Marshal(params)
	if err != nil {
		return faults.Wrap(faults.ErrValidation, "ipc", method, "encode message", err)
	}
	if err := ctx.Err(); err != nil {
		return faults.FromContext("ipc", method, err)
	}
	return c.write(Envelope{Type: method, Kind: KindSend, Payload: payload})
}

func (c *Conn) write(env Envelope) error {
	if c.isClosed() {
		return faults.Wrap(faults.ErrTargetNotRunning, "ipc", env.Type, "channel closed", ErrClosed)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := codec.WriteFrame(c.conn, env); err != nil {
		c.Close()
		return faults.Wrap(faults.ErrTargetNotRunning, "ipc", env.Type, "write failed", err)
	}
	return nil
}

// Connected reports whether the channel is still open.
func (c *Conn) Connected() bool { return !c.isClosed() }

// Done is closed when the channel shuts down.
func (c *Conn) Done() <-chan struct{} { return c.closed }

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close shuts the channel down. Pending invokes fail with ErrClosed.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
