package observability

import (
	"context"
	"errors"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/smallsat-twin/internal/logging"
)

// SimulationService is the health service name reported alongside the
// overall ("") status.
const SimulationService = "smallsat.Simulation"

// HealthServer exposes grpc.health.v1 for the running simulation. Requests
// are traced through otelgrpc and counted by the collector.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	log    logging.Logger
}

// NewHealthServer builds the gRPC server. It starts NOT_SERVING until
// SetServing(true) is called.
func NewHealthServer(collector *SimCollector, log logging.Logger) *HealthServer {
	if log == nil {
		log = logging.Noop()
	}
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(collector.UnaryServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	h := &HealthServer{server: srv, health: hs, log: log}
	h.SetServing(false)
	return h
}

// SetServing flips the reported status of both the overall and simulation
// services.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(SimulationService, status)
}

// Serve blocks accepting connections on lis until Stop is called.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.log.Info(context.Background(), "gRPC health server listening", logging.String("addr", lis.Addr().String()))
	if err := h.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
