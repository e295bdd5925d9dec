package provider

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHTTPBackend_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"models":["claude-3-haiku"],"cost_per_token":0.002}`))
	}))
	defer server.Close()

	b := NewHTTPBackend(Config{
		ID:         "anthropic",
		Kind:       KindHTTP,
		Endpoint:   server.URL,
		HealthPath: "/v1/health",
		APIKey:     "secret",
		Models:     []string{"fallback"},
	})
	require.NoError(t, b.Initialize(context.Background()))
	defer b.Cleanup(context.Background())

	hs, err := b.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, hs.Healthy)
	assert.True(t, hs.WithinRateLimits)
	assert.Equal(t, []string{"claude-3-haiku"}, hs.Models)
	require.NotNil(t, hs.CostPerToken)
	assert.InDelta(t, 0.002, *hs.CostPerToken, 1e-9)
	require.NotNil(t, hs.Latency)
}

func TestHTTPBackend_HealthCheckStatuses(t *testing.T) {
	code := http.StatusTooManyRequests
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(code)
	}))
	defer server.Close()

	b := NewHTTPBackend(Config{ID: "x", Kind: KindHTTP, Endpoint: server.URL})
	require.NoError(t, b.Initialize(context.Background()))

	hs, err := b.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, hs.Healthy)
	assert.False(t, hs.WithinRateLimits)

	code = http.StatusServiceUnavailable
	hs, err = b.HealthCheck(context.Background())
	require.Error(t, err)
	assert.False(t, hs.Healthy)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, 12*time.Second, se.RetryAfter)
}

func TestHTTPBackend_NotInitialized(t *testing.T) {
	b := NewHTTPBackend(Config{ID: "x", Kind: KindHTTP, Endpoint: "http://localhost"})
	_, err := b.HealthCheck(context.Background())
	assert.Error(t, err)

	bad := NewHTTPBackend(Config{ID: "x", Kind: KindHTTP, Endpoint: "ftp://localhost"})
	assert.Error(t, bad.Initialize(context.Background()))
}

func TestGRPCBackend_HealthCheck(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("translator", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("draining", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b := NewGRPCBackend(Config{ID: "local", Kind: KindGRPC, Endpoint: lis.Addr().String(), HealthPath: "translator"})
	require.NoError(t, b.Initialize(ctx))
	defer b.Cleanup(ctx)

	status, err := b.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.True(t, status.WithinRateLimits)

	draining := NewGRPCBackend(Config{ID: "draining", Kind: KindGRPC, Endpoint: lis.Addr().String(), HealthPath: "draining"})
	require.NoError(t, draining.Initialize(ctx))
	defer draining.Cleanup(ctx)

	status, err = draining.HealthCheck(ctx)
	assert.Error(t, err)
	assert.False(t, status.Healthy)
}

func TestNew(t *testing.T) {
	b, err := New(Config{ID: "h", Kind: KindHTTP, Endpoint: "http://x"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPBackend{}, b)

	b, err = New(Config{ID: "g", Kind: KindGRPC, Endpoint: "x:1"})
	require.NoError(t, err)
	assert.IsType(t, &GRPCBackend{}, b)

	_, err = New(Config{ID: "z", Kind: "carrier-pigeon"})
	assert.Error(t, err)
}
