package core

import (
	"context"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported alongside the overall status.
const HealthService = "extract.Run"

// HealthServer publishes run health over the standard gRPC health protocol:
// SERVING while the run is Running, NOT_SERVING once any stop was requested.
type HealthServer struct {
	health *health.Server
	server *grpc.Server
	logger *zap.Logger
}

func NewHealthServer(controller *RunController, logger *zap.Logger) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

	h := &HealthServer{
		health: hs,
		server: grpc.NewServer(),
		logger: logger.With(zap.String("component", "health")),
	}
	healthpb.RegisterHealthServer(h.server, hs)

	controller.OnStop(func(level StopLevel, reason string) {
		hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
		h.logger.Info("health set to NOT_SERVING", zap.String("level", level.String()), zap.String("reason", reason))
	})
	return h
}

// Status reports the current status of service ("" for overall).
func (h *HealthServer) Status(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Serve blocks serving on lis until Stop.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.logger.Info("health server listening", zap.String("addr", lis.Addr().String()))
	return h.server.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the gRPC server.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
