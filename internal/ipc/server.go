package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"

	"radiologger/internal/api"
	"radiologger/internal/daemon"
	"radiologger/internal/logging"
)

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

// NewServer configures the IPC server at the given socket path. shutdown is
// invoked asynchronously when a client calls Shutdown; it may be nil.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, shutdown func(), logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, shutdown: shutdown, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
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
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
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
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
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
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun radiologger stop"))
	}
}

type service struct {
	daemon   *daemon.Daemon
	shutdown func()
	logger   *slog.Logger
	ctx      context.Context

	shutdownOnce sync.Once
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String("component", "ipc"))
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.StartedAt = status.StartedAt
	resp.DatabasePath = status.DatabasePath
	resp.LockPath = status.LockPath
	resp.Captures = status.Captures
	resp.Jobs = status.Jobs
	resp.LastReconcile = status.LastReconcile
	return nil
}

func (s *service) RecordStart(req RecordStartRequest, resp *RecordStartResponse) error {
	station := strings.TrimSpace(req.Station)
	if station == "" {
		return errors.New("record start requires a station")
	}
	manual, err := s.daemon.RecordStart(s.ctx, station)
	if err != nil {
		return err
	}
	resp.Station = manual.Station
	resp.JobID = manual.JobID
	resp.Kind = string(manual.Kind)
	resp.PID = manual.PID
	resp.Output = manual.Output
	resp.Existed = manual.Existed
	s.log().Info("manual capture requested via IPC",
		logging.Station(manual.Station),
		logging.Int("pid", manual.PID),
		logging.Bool("existed", manual.Existed),
		logging.String(logging.FieldEventType, "manual_start"))
	return nil
}

func (s *service) RecordStop(req RecordStopRequest, resp *RecordStopResponse) error {
	station := strings.TrimSpace(req.Station)
	if station == "" {
		return errors.New("record stop requires a station")
	}
	stopped, err := s.daemon.RecordStop(s.ctx, station)
	resp.Stopped = stopped
	if err != nil {
		return err
	}
	s.log().Info("station stop requested via IPC",
		logging.Station(station),
		logging.Int("stopped", stopped),
		logging.String(logging.FieldEventType, "manual_stop"))
	return nil
}

func (s *service) Reconcile(_ ReconcileRequest, resp *ReconcileResponse) error {
	s.log().Debug("reconcile requested")
	report, err := s.daemon.Reconcile(s.ctx)
	if err != nil {
		return err
	}
	resp.Report = report
	return nil
}

func (s *service) Health(_ HealthRequest, resp *HealthResponse) error {
	*resp = api.FromHealth(s.daemon.Health(s.ctx))
	return nil
}

func (s *service) Shutdown(_ ShutdownRequest, resp *ShutdownResponse) error {
	s.log().Info("daemon shutdown requested via IPC",
		logging.String(logging.FieldEventType, "daemon_shutdown_requested"))
	resp.Acknowledged = true
	if s.shutdown != nil {
		// Run after the reply is written so the client sees the ack.
		s.shutdownOnce.Do(func() { go s.shutdown() })
	}
	return nil
}
