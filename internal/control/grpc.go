package control

import (
	"context"
	"fmt"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

// HealthService answers grpc.health.v1 checks. The service name is
// "provider/user"; the empty name reports the process itself.
type HealthService struct {
	healthpb.UnimplementedHealthServer
	engine *Engine
}

// NewHealthService creates a HealthService.
func NewHealthService(engine *Engine) *HealthService {
	return &HealthService{engine: engine}
}

func (h *HealthService) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	svc := req.GetService()
	if svc == "" {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
	}

	p, user, ok := strings.Cut(svc, "/")
	if !ok || p == "" || user == "" {
		return nil, status.Errorf(codes.InvalidArgument, "service %q is not provider/user", svc)
	}
	rec, err := h.engine.GetHealthStatus(ctx, user, domain.Provider(p))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &healthpb.HealthCheckResponse{Status: servingStatus(rec.Status)}, nil
}

func servingStatus(s domain.HealthStatus) healthpb.HealthCheckResponse_ServingStatus {
	switch {
	case s.IsHealthy():
		return healthpb.HealthCheckResponse_SERVING
	case s == domain.StatusNotConnected:
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}

// GRPCServer serves the health service.
type GRPCServer struct {
	server *grpc.Server
	port   int
}

// NewGRPCServer creates a gRPC server exposing engine health.
func NewGRPCServer(engine *Engine, port int) *GRPCServer {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, NewHealthService(engine))
	return &GRPCServer{server: srv, port: port}
}

// Start listens and serves until Stop.
func (g *GRPCServer) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", g.port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return g.Serve(lis)
}

// Serve serves on an existing listener.
func (g *GRPCServer) Serve(lis net.Listener) error {
	return g.server.Serve(lis)
}

// Stop drains in-flight calls, forcing the stop when ctx ends first.
func (g *GRPCServer) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		g.server.Stop()
		return ctx.Err()
	}
}
