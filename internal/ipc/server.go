package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tether/internal/auth"
	"tether/internal/codec"
	"tether/internal/logging"
)

// Authenticator validates a freshly accepted connection.
type Authenticator interface {
	Authenticate(ctx context.Context, conn net.Conn) (auth.Credentials, error)
	RecordFailure(ctx context.Context, creds auth.Credentials, code, reason string)
}

// ServerOptions configures the companion listener.
type ServerOptions struct {
	Path               string
	Authenticator      Authenticator
	AttestationTimeout time.Duration
	MaxFrameBytes      int
	// Handler serves envelopes sent by companions. PeerPID recovers the
	// sender from the handler context.
	Handler Handler
	// OnCompanion is called once a companion has authenticated and attested,
	// before its channel starts reading.
	OnCompanion func(ctx context.Context, conn *Conn, creds auth.Credentials)
	Logger      *slog.Logger
}

// Server accepts companion connections on a unix socket.
type Server struct {
	opts     ServerOptions
	logger   *slog.Logger
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer binds the companion socket, replacing any stale socket file.
func NewServer(ctx context.Context, opts ServerOptions) (*Server, error) {
	if opts.Authenticator == nil {
		return nil, errors.New("ipc server requires an authenticator")
	}
	if opts.OnCompanion == nil {
		return nil, errors.New("ipc server requires a companion callback")
	}
	if opts.AttestationTimeout <= 0 {
		opts.AttestationTimeout = 30 * time.Second
	}
	logger := logging.NewComponentLogger(opts.Logger, "ipc")

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.RemoveAll(opts.Path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	// Companions run as the desktop user; access is gated by peer
	// credential checks rather than file mode.
	if err := os.Chmod(opts.Path, 0o666); err != nil {
		listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		opts:     opts,
		logger:   logger,
		listener: listener,
		ctx:      serverCtx,
		cancel:   cancel,
	}, nil
}

// Path returns the socket path.
func (s *Server) Path() string { return s.opts.Path }

// Serve starts accepting connections until Close is called or the context
// is canceled.
func (s *Server) Serve() {
	s.logger.Debug("companion socket listening", logging.String("socket", s.opts.Path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "companions may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the agent if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.handle(c)
			}(conn)
		}
	}()
}

func (s *Server) handle(conn net.Conn) {
	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	ctx, correlationID := logging.EnsureCorrelationID(s.ctx)
	creds, err := s.opts.Authenticator.Authenticate(ctx, conn)
	if err != nil {
		conn.Close()
		return
	}
	logger := s.logger.With(
		logging.Int(logging.FieldPID, creds.PID),
		logging.String(logging.FieldCorrelationID, correlationID),
	)

	if err := s.attest(conn, creds); err != nil {
		logging.CriticalWithContext(ctx, logger, "companion identity attestation failed", "ipc_attestation_failed",
			logging.Error(err),
			logging.String("executable_path", creds.ExecutablePath),
			logging.String(logging.FieldErrorHint, "ensure the companion sends identity_attestation with its own pid"),
		)
		s.opts.Authenticator.RecordFailure(ctx, creds, "attestation", err.Error())
		conn.Close()
		return
	}

	handler := s.opts.Handler
	channel := NewConn(conn, ConnOptions{
		MaxFrameBytes: s.opts.MaxFrameBytes,
		Logger:        s.opts.Logger,
		Handler: func(ctx context.Context, env Envelope) (any, error) {
			if handler == nil {
				return nil, nil
			}
			return handler(WithPeerPID(ctx, creds.PID), env)
		},
	})
	s.opts.OnCompanion(ctx, channel, creds)
	if err := channel.Serve(s.ctx); err != nil {
		logger.Debug("companion channel ended", logging.Error(err))
	}
}

func (s *Server) attest(conn net.Conn, creds auth.Credentials) error {
	if err := conn.SetReadDeadline(time.Now().Add(s.opts.AttestationTimeout)); err != nil {
		return fmt.Errorf("set attestation deadline: %w", err)
	}
	var env Envelope
	if err := codec.ReadFrame(conn, s.opts.MaxFrameBytes, &env); err != nil {
		return fmt.Errorf("read attestation: %w", err)
	}
	if env.Type != MsgIdentityAttestation {
		return fmt.Errorf("expected %s, got %q", MsgIdentityAttestation, env.Type)
	}
	var attestation IdentityAttestation
	if err := env.Decode(&attestation); err != nil {
		return fmt.Errorf("decode attestation: %w", err)
	}
	if attestation.PID != creds.PID {
		return fmt.Errorf("attested pid %d does not match peer pid %d", attestation.PID, creds.PID)
	}
	return conn.SetReadDeadline(time.Time{})
}

// Close stops accepting, waits for connection handlers, and removes the
// socket file.
func (s *Server) Close() {
	s.cancel()
	_ = s.listener.Close()
	s.wg.Wait()
	if err := os.RemoveAll(s.opts.Path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.opts.Path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type peerPIDKey struct{}

// WithPeerPID records the companion PID on ctx.
func WithPeerPID(ctx context.Context, pid int) context.Context {
	return context.WithValue(ctx, peerPIDKey{}, pid)
}

// PeerPID returns the companion PID a handler is serving.
func PeerPID(ctx context.Context) (int, bool) {
	pid, ok := ctx.Value(peerPIDKey{}).(int)
	return pid, ok
}

// Dial connects to the agent socket as a companion, sends the identity
// attestation, and starts serving the channel in the background.
func Dial(ctx context.Context, path string, pid int, opts ConnOptions) (*Conn, error) {
	var dialer net.Dialer
	raw, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial agent socket: %w", err)
	}
	if err := codec.WriteFrame(raw, Envelope{Type: MsgIdentityAttestation, Kind: KindSend, Payload: mustMarshal(IdentityAttestation{PID: pid})}); err != nil {
		raw.Close()
		return nil, err
	}
	conn := NewConn(raw, opts)
	go func() { _ = conn.Serve(ctx) }()
	return conn, nil
}

func mustMarshal(v any) codec.RawMessage {
	data, err := codec.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
