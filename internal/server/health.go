// Package server exposes worker liveness over the standard gRPC health protocol.
package server

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger is the store check the health status follows.
type Pinger interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// HealthServer reports SERVING while the job store answers pings.
type HealthServer struct {
	grpc     *grpc.Server
	health   *health.Server
	store    Pinger
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	serving bool
}

type Option func(*HealthServer)

func WithProbeInterval(d time.Duration) Option {
	return func(s *HealthServer) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithProbeTimeout(d time.Duration) Option {
	return func(s *HealthServer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewHealthServer(store Pinger, logger *slog.Logger, opts ...Option) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HealthServer{
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		store:    store,
		logger:   logger,
		interval: 10 * time.Second,
		timeout:  3 * time.Second,
		serving:  true,
	}
	for _, o := range opts {
		o(s)
	}
	grpc_health_v1.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	return s
}

// Serve blocks serving health RPCs on lis until Stop.
func (s *HealthServer) Serve(lis net.Listener) error {
	s.logger.Info("health server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Probe pings the store once and updates the reported status.
func (s *HealthServer) Probe(ctx context.Context) bool {
	err := s.store.HealthCheck(ctx, s.timeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil && s.serving:
		s.logger.Warn("job store unhealthy", "error", err)
		s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		s.serving = false
	case err == nil && !s.serving:
		s.logger.Info("job store healthy again")
		s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		s.serving = true
	}
	return s.serving
}

// Watch probes the store every interval until ctx is done.
func (s *HealthServer) Watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Stop marks every service NOT_SERVING and drains in-flight RPCs.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
