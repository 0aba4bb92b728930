package server

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jupark12/voxnotes/logging"
)

// HealthServer exposes the standard gRPC health service for schedulers that
// check liveness over gRPC.
type HealthServer struct {
	addr     string
	grpc     *grpc.Server
	health   *health.Server
	listener net.Listener
}

// NewHealthServer registers the health service. It reports NOT_SERVING
// until Start is called.
func NewHealthServer(addr string) *HealthServer {
	g := grpc.NewServer()
	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, h)
	h.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{addr: addr, grpc: g, health: h}
}

// Start listens on the configured address and marks the service as serving.
func (h *HealthServer) Start() error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.listener = lis
	h.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		logger := logging.WithComponent("grpc-health")
		logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server listening")
		if err := h.grpc.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC health server failed")
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (h *HealthServer) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

// Stop flips the status to NOT_SERVING and drains the gRPC server.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}
