package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tether/internal/clock"
	"tether/internal/faults"
	"tether/internal/logging"
)

// FrameCancel asks the agent to abandon the in-flight call with ID.
const FrameCancel FrameType = "cancel"

// ErrNotConnected is returned by outbound calls while no session is up.
var ErrNotConnected = errors.New("hub not connected")

// ErrDisconnected ends inbound streams when the session drops.
var ErrDisconnected = errors.New("hub session ended")

const (
	writeTimeout = 10 * time.Second
	pongWait     = 75 * time.Second
	pingPeriod   = 30 * time.Second
)

// Dispatcher serves calls arriving from the hub. Dispatch runs on its own
// goroutine per call.
type Dispatcher interface {
	Dispatch(ctx context.Context, call *Call)
}

// Options configures a Client.
type Options struct {
	ServerURI  string
	DeviceID   string
	Dispatcher Dispatcher
	// OnConnect runs after every successful connect, including reconnects.
	OnConnect         func(ctx context.Context)
	MaxReconnectDelay time.Duration
	HandshakeTimeout  time.Duration
	MaxFrameBytes     int64
	Clock             clock.Clock
	Logger            *slog.Logger
}

// Client keeps a persistent websocket session with the hub, reconnecting
// with a quadratic backoff whenever it drops.
type Client struct {
	opts     Options
	endpoint string
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	session *session
}

// New validates opts and builds a Client. Nothing connects until Run.
func New(opts Options) (*Client, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("hub client requires a dispatcher")
	}
	endpoint, err := EndpointURL(opts.ServerURI)
	if err != nil {
		return nil, err
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = 30 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}
	return &Client{
		opts:     opts,
		endpoint: endpoint,
		clock:    clock.OrReal(opts.Clock),
		logger:   logging.NewComponentLogger(opts.Logger, "hub"),
	}, nil
}

// EndpointURL converts the configured server URI into the websocket URL of
// the agent hub.
func EndpointURL(serverURI string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(serverURI))
	if err != nil {
		return "", fmt.Errorf("parse hub uri: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported hub uri scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("hub uri %q has no host", serverURI)
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + AgentPath
	return parsed.String(), nil
}

// Backoff returns the reconnect delay after attempt consecutive failures:
// attempt² seconds, capped at limit.
func Backoff(attempt int, limit time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := time.Duration(attempt*attempt) * time.Second
	if attempt > 1<<15 || delay > limit {
		return limit
	}
	return delay
}

// Connected reports whether a hub session is currently up.
func (c *Client) Connected() bool {
	return c.current() != nil
}

// Run connects and serves until ctx is canceled.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		sess, err := c.dial(ctx)
		if err == nil {
			attempt = 0
			c.logger.Info("connected to hub",
				logging.String("endpoint", c.endpoint),
				logging.String(logging.FieldEventType, "hub_connected"),
			)
			c.setSession(sess)
			if c.opts.OnConnect != nil {
				go c.opts.OnConnect(sess.ctx)
			}
			err = c.serve(ctx, sess)
			c.setSession(nil)
			sess.close()
			if ctx.Err() != nil {
				return nil
			}
		}

		attempt++
		delay := Backoff(attempt, c.opts.MaxReconnectDelay)
		logging.WarnWithContext(c.logger, "hub connection unavailable", "hub_disconnected",
			logging.Error(err),
			logging.Int("attempt", attempt),
			logging.Duration("retry_in", delay),
			logging.String(logging.FieldImpact, "remote commands are unavailable until the agent reconnects"),
			logging.String(logging.FieldErrorHint, "check hub.server_uri and network reachability"),
		)
		select {
		case <-c.clock.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) dial(ctx context.Context) (*session, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}
	header := http.Header{}
	if c.opts.DeviceID != "" {
		header.Set(DeviceHeader, c.opts.DeviceID)
	}
	conn, resp, err := dialer.DialContext(ctx, c.endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}
	if c.opts.MaxFrameBytes > 0 {
		conn.SetReadLimit(c.opts.MaxFrameBytes)
	}
	return newSession(ctx, conn), nil
}

func (c *Client) serve(ctx context.Context, sess *session) error {
	stop := context.AfterFunc(ctx, sess.close)
	defer stop()

	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.keepalive(sess)

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if sess.isClosed() {
				return ErrDisconnected
			}
			return fmt.Errorf("read frame: %w", err)
		}
		_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			logging.WarnWithContext(c.logger, "dropping malformed hub frame", "hub_frame_invalid",
				logging.Error(err),
				logging.String(logging.FieldImpact, "frame ignored"),
			)
			continue
		}
		c.route(sess, frame)
	}
}

func (c *Client) route(sess *session, frame Frame) {
	switch frame.Type {
	case FrameCall:
		call := sess.openCall(frame)
		go func() {
			defer sess.finishCall(call)
			c.opts.Dispatcher.Dispatch(call.ctx, call)
		}()
	case FrameResult:
		sess.deliver(frame)
	case FrameChunk, FrameEnd:
		if !sess.pushInbound(frame) {
			c.logger.Debug("hub stream frame for unknown call",
				logging.String("id", frame.ID),
				logging.String("type", string(frame.Type)),
			)
		}
	case FrameCancel:
		sess.cancelCall(frame.ID)
	default:
		logging.WarnWithContext(c.logger, "ignoring hub frame with unknown type", "hub_frame_unknown",
			logging.String("type", string(frame.Type)),
			logging.String(logging.FieldImpact, "frame ignored"),
		)
	}
}

func (c *Client) keepalive(sess *session) {
	ticker := c.clock.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				sess.close()
				return
			}
		}
	}
}

// Call invokes method on the hub and decodes the result into result, which
// may be nil.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	sess := c.current()
	if sess == nil {
		return faults.Wrap(faults.ErrUnexpected, "hub", method, "not connected", ErrNotConnected)
	}
	encoded, err := marshalParams(params)
	if err != nil {
		return faults.Wrap(faults.ErrValidation, "hub", method, "encode params", err)
	}
	frame := Frame{Type: FrameCall, ID: uuid.NewString(), Method: method, Params: encoded}
	reply := sess.expect(frame.ID)
	defer sess.forget(frame.ID)

	if err := sess.write(ctx, frame); err != nil {
		return faults.Wrap(faults.ErrUnexpected, "hub", method, "send call", err)
	}
	select {
	case resp := <-reply:
		if resp.Error != "" {
			return faults.Wrap(faults.ErrUnexpected, "hub", method, resp.Error, nil)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return faults.Wrap(faults.ErrUnexpected, "hub", method, "decode result", err)
			}
		}
		return nil
	case <-ctx.Done():
		return faults.FromContext("hub", method, ctx.Err())
	case <-sess.done:
		return faults.Wrap(faults.ErrUnexpected, "hub", method, "session ended", ErrDisconnected)
	}
}

// Notify sends a call that expects no reply.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	sess := c.current()
	if sess == nil {
		return faults.Wrap(faults.ErrUnexpected, "hub", method, "not connected", ErrNotConnected)
	}
	encoded, err := marshalParams(params)
	if err != nil {
		return faults.Wrap(faults.ErrValidation, "hub", method, "encode params", err)
	}
	if err := sess.write(ctx, Frame{Type: FrameCall, Method: method, Params: encoded}); err != nil {
		return faults.Wrap(faults.ErrUnexpected, "hub", method, "send notification", err)
	}
	return nil
}

// SendTerminalOutput forwards terminal output to the hub.
func (c *Client) SendTerminalOutput(ctx context.Context, terminalID, viewerID string, output []byte) error {
	return c.Notify(ctx, MethodSendTerminalOutput, TerminalOutput{
		TerminalID: terminalID,
		ViewerID:   viewerID,
		Output:     string(output),
	})
}

// SendChatResponse forwards a companion chat reply to the hub.
func (c *Client) SendChatResponse(ctx context.Context, response ChatResponse) error {
	return c.Notify(ctx, MethodSendChatResponse, response)
}

func (c *Client) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) setSession(sess *session) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
}

// Close drops the current session, if any. Run reconnects unless its
// context is canceled.
func (c *Client) Close() {
	if sess := c.current(); sess != nil {
		sess.close()
	}
}
