package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/solatis/tracenotify/internal/core/config"
)

func TestHealth(t *testing.T) {
	srv, err := NewGRPCServer(config.DefaultDaemonConfig())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	conn, err := grpc.NewClient(ln.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := grpc_health_v1.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	check := func(service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	require.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(ServiceControl))
	srv.SetServing(ServiceControl, true)
	srv.SetServing("", true)
	require.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(ServiceControl))
	require.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(""))
	require.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(ServiceNotification))

	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-served)
}

func TestNewGRPCServer_NilConfig(t *testing.T) {
	_, err := NewGRPCServer(nil)
	require.Error(t, err)
}
