package control

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func TestHealthService_Check(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	svc := NewHealthService(h.engine)

	check := func(name string) (healthpb.HealthCheckResponse_ServingStatus, error) {
		resp, err := svc.Check(ctx, &healthpb.HealthCheckRequest{Service: name})
		if err != nil {
			return 0, err
		}
		return resp.GetStatus(), nil
	}

	got, err := check("")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, got)

	for _, bad := range []string{"google-drive", "/user-1", "google-drive/"} {
		_, err = check(bad)
		assert.Equal(t, codes.InvalidArgument, status.Code(err), bad)
	}

	got, err = check("google-drive/" + user)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVICE_UNKNOWN, got)

	h.connect(t, time.Hour)
	got, err = check("google-drive/" + user)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, got)

	h.client.set(nil, errors.New("connection refused"))
	require.NoError(t, h.engine.ResetConnection(ctx, user, "google-drive"))
	got, err = check("google-drive/" + user)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, got)
}

func TestGRPCServer_Serve(t *testing.T) {
	h := newHarness(t)
	h.connect(t, time.Hour)

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(h.engine, 0)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "google-drive/" + user})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
