package api

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SweeperService is the health service name that reflects sweep outcomes.
const SweeperService = "papertrade.sweeper"

func newHealthServer() *health.Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(SweeperService, healthpb.HealthCheckResponse_SERVING)
	return hs
}

// RegisterGRPC registers the health service on gs.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, s.health)
}

func (s *Server) setSweeperServing(ok bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(SweeperService, status)
}
