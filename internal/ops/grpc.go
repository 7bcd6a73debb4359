package ops

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported for the daemon.
const ServiceName = "permit-intake"

// GRPCHealth serves the standard gRPC health protocol, mirroring the /healthz checks.
type GRPCHealth struct {
	Server   *grpc.Server
	health   *health.Server
	checks   map[string]Checker
	timeout  time.Duration
	interval time.Duration
	logger   *slog.Logger
}

func NewGRPCHealth(checks map[string]Checker, interval time.Duration, logger *slog.Logger) *GRPCHealth {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	g := &GRPCHealth{
		Server:   grpc.NewServer(),
		health:   health.NewServer(),
		checks:   checks,
		timeout:  2 * time.Second,
		interval: interval,
		logger:   logger,
	}
	healthpb.RegisterHealthServer(g.Server, g.health)
	reflection.Register(g.Server)
	g.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return g
}

// Refresh runs every check once and publishes the combined status.
func (g *GRPCHealth) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, c := range g.checks {
		if err := c.HealthCheck(ctx, g.timeout); err != nil {
			g.logger.Warn("ops.grpc_health.down", "service", name, "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	g.health.SetServingStatus(ServiceName, status)
	g.health.SetServingStatus("", status)
	return status
}

// Watch refreshes the status on an interval until ctx is done, then marks everything not serving.
func (g *GRPCHealth) Watch(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		g.Refresh(ctx)
		select {
		case <-ctx.Done():
			g.health.Shutdown()
			return
		case <-ticker.C:
		}
	}
}
