package grpc_control

import (
	"errors"
	"fmt"
	"net"

	"laserstream-relay/src/ingest"
	"laserstream-relay/src/logger"
	"laserstream-relay/src/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// UpstreamService is the health service name that tracks the ingester.
const UpstreamService = "relay.upstream"

// ControlService exposes the standard gRPC health protocol. The overall
// service is SERVING while the process runs; UpstreamService is SERVING only
// while the ingester is streaming.
type ControlService struct {
	Config *models.MConfig
	Logger *logger.Logger

	server *grpc.Server
	health *health.Server
}

// NewControlService creates a new instance of ControlService
func NewControlService(cfg *models.MConfig, log *logger.Logger) *ControlService {
	s := &ControlService{
		Config: cfg,
		Logger: log,
		server: grpc.NewServer(),
		health: health.NewServer(),
	}

	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(UpstreamService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// -----------------------------------------------------------------------------

// SetIngesterState is meant to be wired into Ingester.OnStateChange.
func (s *ControlService) SetIngesterState(state ingest.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == ingest.Streaming {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(UpstreamService, status)
}

// -----------------------------------------------------------------------------

// Start listens on grpc_host:grpc_port and blocks until Stop.
func (s *ControlService) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.GrpcHost, s.Config.GrpcPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.Logger.Info("gRPC health service listening on %s", addr)
	return s.Serve(lis)
}

func (s *ControlService) Serve(lis net.Listener) error {
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

// Stop marks everything NOT_SERVING and drains in-flight calls.
func (s *ControlService) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
