package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/session"
	"github.com/matheus3301/inbox/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service that reports SERVING only while the
// daemon is fully ready, broker included.
const ServiceName = "inbox.v1.Daemon"

// HealthServer exposes the daemon state over the gRPC health protocol on
// the session's Unix domain socket.
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	machine    *status.Machine
	bus        *bus.Bus
	logger     *zap.Logger
	stop       chan struct{}
	done       chan struct{}
	started    bool
}

// NewHealthServer creates a gRPC server bound to the session's socket.
func NewHealthServer(p Params, machine *status.Machine, b *bus.Bus, logger *zap.Logger) (*HealthServer, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &HealthServer{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		machine:    machine,
		bus:        b,
		logger:     logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.apply(machine.Current())
	return s, nil
}

// servingStatus maps a daemon state to the process-wide and the ready
// health status. Only the ready status depends on the broker.
func servingStatus(st status.State) (process, ready healthpb.HealthCheckResponse_ServingStatus) {
	process, ready = healthpb.HealthCheckResponse_NOT_SERVING, healthpb.HealthCheckResponse_NOT_SERVING
	if st.Serves() {
		process = healthpb.HealthCheckResponse_SERVING
	}
	if st == status.Ready {
		ready = healthpb.HealthCheckResponse_SERVING
	}
	return process, ready
}

func (s *HealthServer) apply(st status.State) {
	process, ready := servingStatus(st)
	s.health.SetServingStatus("", process)
	s.health.SetServingStatus(ServiceName, ready)
}

// Start serves health checks in the background and follows state changes.
func (s *HealthServer) Start() {
	s.started = true
	events, unsubscribe := s.bus.Subscribe(bus.DaemonStatusChanged, 16)
	go func() {
		defer close(s.done)
		defer unsubscribe()
		for {
			select {
			case <-events:
				s.apply(s.machine.Current())
			case <-s.stop:
				return
			}
		}
	}()
	// Covers a change published before the subscription existed.
	s.apply(s.machine.Current())

	s.logger.Info("health server starting", zap.String("socket", s.socketPath))
	go func() {
		if err := s.grpcServer.Serve(s.listener); err != nil {
			s.logger.Error("health server error", zap.Error(err))
		}
	}()
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *HealthServer) Stop(_ context.Context) {
	s.logger.Info("health server stopping")
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	if s.started {
		<-s.done
	}
	_ = os.Remove(s.socketPath)
}
