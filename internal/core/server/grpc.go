// Package server provides the daemon's gRPC health endpoint.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/solatis/tracenotify/internal/core/config"
)

// Service names reported through the health endpoint. The empty name is
// the daemon as a whole.
const (
	ServiceNotification = "tracenotify.Notification"
	ServiceControl      = "tracenotify.Control"
)

// GRPCServer manages gRPC server lifecycle.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	config   *config.DaemonConfig
}

// NewGRPCServer creates the health server. Every service starts as
// NOT_SERVING until SetServing marks it up.
func NewGRPCServer(cfg *config.DaemonConfig) (*GRPCServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}

	server := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	for _, svc := range []string{"", ServiceNotification, ServiceControl} {
		healthServer.SetServingStatus(svc, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}

	return &GRPCServer{
		server: server,
		health: healthServer,
		config: cfg,
	}, nil
}

// SetServing updates a service's reported status.
func (s *GRPCServer) SetServing(service string, serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// Start binds the configured address and serves until Shutdown.
func (s *GRPCServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.HealthHost, s.config.HealthPort)
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener until Shutdown.
func (s *GRPCServer) Serve(listener net.Listener) error {
	s.listener = listener
	return s.server.Serve(listener)
}

// Shutdown marks every service down and stops the server gracefully,
// forcing a stop after 30 seconds or when ctx ends.
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	case <-time.After(30 * time.Second):
		s.server.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}
