package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tether/internal/daemon"
	"tether/internal/failures"
	"tether/internal/logging"
	"tether/internal/terminal"
)

// Backend answers control queries. *daemon.Daemon satisfies it.
type Backend interface {
	Status(ctx context.Context) daemon.Status
	Sessions() []daemon.Companion
	Terminals() []terminal.Info
	Failures(ctx context.Context, opts failures.ListOptions) ([]failures.Report, error)
}

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the control server at the given socket path.
func NewServer(ctx context.Context, path string, backend Backend, logger *slog.Logger) (*Server, error) {
	if backend == nil {
		return nil, errors.New("control server requires a backend")
	}
	logger = logging.NewComponentLogger(logger, "control")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{backend: backend, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName("Tether", srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("control server listening", logging.String("socket", s.path))
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
				logging.WarnWithContext(s.logger, "accept failed", "control_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "CLI clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				stop := context.AfterFunc(s.ctx, func() { c.Close() })
				defer stop()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "control_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale control socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	backend Backend
	logger  *slog.Logger
	ctx     context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.backend.Status(s.ctx)
	*resp = StatusResponse{
		Running:           status.Running,
		PID:               status.PID,
		Version:           status.Version,
		InstanceID:        status.InstanceID,
		DeviceID:          status.DeviceID,
		HubURI:            status.HubURI,
		HubConnected:      status.HubConnected,
		Companions:        status.Companions,
		Terminals:         status.Terminals,
		StartedAt:         status.StartedAt,
		LockPath:          status.LockPath,
		SocketPath:        status.SocketPath,
		ControlSocketPath: status.ControlSocketPath,
		FailuresDBPath:    status.FailuresDBPath,
	}
	return nil
}

func (s *service) Sessions(_ SessionsRequest, resp *SessionsResponse) error {
	companions := s.backend.Sessions()
	resp.Sessions = make([]Session, 0, len(companions))
	for _, companion := range companions {
		resp.Sessions = append(resp.Sessions, Session{
			PID:         companion.PID,
			ConnectedAt: companion.ConnectedAt,
			Connected:   companion.Connected,
		})
	}
	return nil
}

func (s *service) Terminals(_ TerminalsRequest, resp *TerminalsResponse) error {
	infos := s.backend.Terminals()
	resp.Terminals = make([]Terminal, 0, len(infos))
	for _, info := range infos {
		resp.Terminals = append(resp.Terminals, Terminal{
			ID:         info.ID,
			ViewerID:   info.ViewerID,
			Kind:       string(info.Kind),
			CreatedAt:  info.CreatedAt,
			LastAccess: info.LastAccess,
		})
	}
	return nil
}

func (s *service) Failures(req FailuresRequest, resp *FailuresResponse) error {
	opts := failures.ListOptions{Component: req.Component, Limit: req.Limit}
	if req.SinceSeconds > 0 {
		opts.Since = time.Now().Add(-time.Duration(req.SinceSeconds) * time.Second)
	}
	reports, err := s.backend.Failures(s.ctx, opts)
	if err != nil {
		s.logger.Debug("failure listing failed", logging.Error(err))
		return err
	}
	resp.Failures = make([]Failure, 0, len(reports))
	for _, r := range reports {
		resp.Failures = append(resp.Failures, Failure(r))
	}
	return nil
}
