package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// GRPCBackend probes a backend through the standard gRPC health service.
// Callers build generated clients on Conn().
type GRPCBackend struct {
	cfg Config

	mu   sync.RWMutex
	conn *grpc.ClientConn
}

// NewGRPCBackend creates an uninitialized gRPC backend.
func NewGRPCBackend(cfg Config) *GRPCBackend {
	return &GRPCBackend{cfg: cfg}
}

// Config returns the backend settings.
func (b *GRPCBackend) Config() Config { return b.cfg }

// Conn returns the client connection, nil before Initialize.
func (b *GRPCBackend) Conn() *grpc.ClientConn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn
}

// Initialize creates the client connection. TLS is used for https:// and :443
// endpoints.
func (b *GRPCBackend) Initialize(ctx context.Context) error {
	target := b.cfg.Endpoint
	var opts []grpc.DialOption

	if strings.HasPrefix(target, "https://") || strings.HasSuffix(target, ":443") {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.conn = conn
	return nil
}

// HealthCheck calls grpc.health.v1.Health/Check with HealthPath as the service.
func (b *GRPCBackend) HealthCheck(ctx context.Context) (HealthStatus, error) {
	conn := b.Conn()
	if conn == nil {
		return HealthStatus{}, errors.New("grpc backend not initialized")
	}

	hs := HealthStatus{
		LastCheck: time.Now(),
		Models:    b.cfg.Models,
	}
	if b.cfg.CostPerToken > 0 {
		cost := b.cfg.CostPerToken
		hs.CostPerToken = &cost
	}

	start := time.Now()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: b.cfg.HealthPath})
	latency := time.Since(start)
	hs.Latency = &latency

	if err != nil {
		if status.Code(err) == codes.ResourceExhausted {
			hs.Healthy = true
			hs.WithinRateLimits = false
			return hs, nil
		}
		hs.Error = err.Error()
		return hs, fmt.Errorf("health check: %w", err)
	}

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		hs.Error = "status " + resp.GetStatus().String()
		return hs, fmt.Errorf("backend %s not serving: %s", b.cfg.ID, resp.GetStatus())
	}

	hs.Healthy = true
	hs.WithinRateLimits = true
	return hs, nil
}

// Cleanup closes the connection.
func (b *GRPCBackend) Cleanup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
