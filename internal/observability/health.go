package observability

import (
	"context"
	"errors"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/passtrack/internal/logging"
	"github.com/signalsfoundry/passtrack/model"
)

// TrackingService is the health service name reporting whether a pass is
// being tracked right now.
const TrackingService = "passtrack.Tracking"

// Health serves the standard gRPC health protocol. The overall status
// follows the supervisor loop; TrackingService follows the active pass.
type Health struct {
	server *grpc.Server
	health *health.Server
	log    logging.Logger
}

// NewHealth constructs a health server reporting NOT_SERVING until
// SetServing is called.
func NewHealth(log logging.Logger) *Health {
	if log == nil {
		log = logging.Noop()
	}
	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(TrackingService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return &Health{server: srv, health: hs, log: log}
}

// Serve accepts connections on lis until Stop is called.
func (h *Health) Serve(lis net.Listener) error {
	err := h.server.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// SetServing flips the overall status.
func (h *Health) SetServing(serving bool) {
	h.health.SetServingStatus("", status(serving))
}

// PassStarted marks the tracking service as serving.
func (h *Health) PassStarted(ctx context.Context, s model.TrackingSession) {
	h.health.SetServingStatus(TrackingService, healthpb.HealthCheckResponse_SERVING)
}

// PassEnded marks the tracking service as idle.
func (h *Health) PassEnded(ctx context.Context, s model.TrackingSession) {
	h.health.SetServingStatus(TrackingService, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Stop reports NOT_SERVING on every service and stops the server.
func (h *Health) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
	h.log.Info(context.Background(), "health server stopped")
}

func status(serving bool) healthpb.HealthCheckResponse_ServingStatus {
	if serving {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
