package control

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietddude/binlens/internal/core/config"
	"github.com/vietddude/binlens/internal/core/domain"
	"github.com/vietddude/binlens/internal/infra/provider"
	"github.com/vietddude/binlens/internal/infra/routing"
	"github.com/vietddude/binlens/internal/infra/storage/memory"
	"github.com/vietddude/binlens/internal/resilience/recovery"
)

type stubBackend struct {
	cleanups atomic.Int32
}

func (b *stubBackend) Initialize(ctx context.Context) error { return nil }
func (b *stubBackend) HealthCheck(ctx context.Context) (provider.HealthStatus, error) {
	return provider.HealthStatus{Healthy: true, WithinRateLimits: true}, nil
}
func (b *stubBackend) Cleanup(ctx context.Context) error {
	b.cleanups.Add(1)
	return nil
}

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg, err := config.Parse([]byte(`
server:
  port: 0
recovery:
  backoff_unit: 1ms
  grace: 20ms
providers:
  - {id: primary, kind: http, vendor: anthropic, endpoint: "http://primary.local", cost_per_token: 0.01}
  - {id: secondary, kind: grpc, vendor: ollama, endpoint: "localhost:50051", cost_per_token: 0.02}
`))
	require.NoError(t, err)
	return *cfg
}

func TestApp_Lifecycle(t *testing.T) {
	backends := map[string]*stubBackend{"primary": {}, "secondary": {}}
	construct := func(cfg provider.Config) (provider.Backend, error) {
		return backends[cfg.ID], nil
	}
	journal := memory.NewJournal()

	app, err := NewApp(context.Background(), testConfig(t), WithConstructor(construct), WithJournal(journal))
	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "secondary"}, app.Factory().Providers())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, app.Start(ctx))

	// One flaky call: the first backend fails, the manager retries and the
	// factory fails over to the second backend.
	var calls int
	result, err := recovery.Execute(ctx, app.Manager(), recovery.Request{Name: "explain_function", Component: "analyzer"},
		func(ctx context.Context) (any, error) {
			return routing.CallWithFailover(ctx, app.Factory(), routing.OpFunctionExplanation, nil, 1,
				func(ctx context.Context, h routing.Handle) (any, routing.Usage, error) {
					calls++
					if h.ID == "primary" {
						return nil, routing.Usage{}, errors.New("connection reset by peer")
					}
					return "explained by " + h.ID, routing.Usage{Tokens: 10}, nil
				})
		})
	require.NoError(t, err)
	assert.Equal(t, "explained by secondary", result)
	assert.Equal(t, 2, calls)

	stats := app.Factory().GetProviderStats()
	assert.Equal(t, int64(1), stats["primary"].FailureCount)
	assert.Equal(t, int64(1), stats["secondary"].SuccessCount)

	recorded, err := journal.RecentErrors(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, domain.CategoryConnectionLost, recorded[0].Category)
	assert.Equal(t, "analyzer", recorded[0].Component)

	report := app.HealthMonitor().CheckHealth(ctx)
	assert.Len(t, report.Providers, 2)
	require.NotNil(t, report.Recovery)
	assert.Equal(t, 1, report.Recovery.TotalErrors)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, app.Stop(stopCtx))

	assert.Equal(t, int32(1), backends["primary"].cleanups.Load())
	assert.Equal(t, int32(1), backends["secondary"].cleanups.Load())
}

func TestNewApp_DuplicateProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers = append(cfg.Providers, cfg.Providers[0])

	_, err := NewApp(context.Background(), cfg, WithJournal(memory.NewJournal()))
	assert.ErrorContains(t, err, "already registered")
}

func TestOpenJournal_Memory(t *testing.T) {
	j, db, err := OpenJournal(context.Background(), config.AppConfig{Journal: config.JournalConfig{Backend: "memory"}})
	require.NoError(t, err)
	assert.Nil(t, db)
	assert.Equal(t, "memory", j.Backend())
	require.NoError(t, j.Close())
}

func TestOpenJournal_Unknown(t *testing.T) {
	_, _, err := OpenJournal(context.Background(), config.AppConfig{Journal: config.JournalConfig{Backend: "s3"}})
	assert.ErrorContains(t, err, "unknown journal backend")
}
