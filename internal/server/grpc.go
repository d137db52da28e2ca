package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "telemetry-ingest/backend/internal/health/handler"
	"telemetry-ingest/backend/internal/server/interceptors"
)

// NewGRPCServer returns a gRPC server exposing grpc.health.v1.Health, instrumented with OpenTelemetry
// through the global providers.
func NewGRPCServer(health *healthhandler.Server, log *zap.Logger) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.RecoveryUnary(log),
			interceptors.LoggingUnary(log, map[string]bool{healthpb.Health_Check_FullMethodName: true}),
		),
	)
	healthpb.RegisterHealthServer(s, health)
	return s
}
