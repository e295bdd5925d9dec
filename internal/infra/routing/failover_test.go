package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietddude/binlens/internal/infra/provider"
	"github.com/vietddude/binlens/internal/resilience/recovery"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorAction
	}{
		{"nil", nil, ActionFailover},
		{"canceled", context.Canceled, ActionFatal},
		{"invalid input", recovery.InvalidInput(errors.New("empty function body")), ActionFatal},
		{"bad request", &provider.StatusError{Code: 400}, ActionFatal},
		{"context length", errors.New("maximum context length exceeded"), ActionFatal},
		{"prompt too long", errors.New("Prompt is too long"), ActionFatal},
		{"rate limited", &provider.StatusError{Code: 429}, ActionFailover},
		{"server error", &provider.StatusError{Code: 502}, ActionFailover},
		{"connection refused", errors.New("dial tcp: connection refused"), ActionFailover},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestCallWithFailover_NextBackendAfterFailure(t *testing.T) {
	h := newHarness(t,
		backendCfg("a", "openai", 0.001),
		backendCfg("b", "gemini", 0.002),
	)
	prefs := provider.DefaultPreferences()
	prefs.CostOptimization = true

	var tried []string
	result, err := CallWithFailover(context.Background(), h.f, OpFunctionExplanation, prefs, 3,
		func(ctx context.Context, handle Handle) (any, Usage, error) {
			tried = append(tried, handle.ID)
			if handle.ID == "a" {
				return nil, Usage{}, &provider.StatusError{Code: 503}
			}
			return "explained", Usage{Tokens: 42, Cost: 0.08}, nil
		})

	require.NoError(t, err)
	assert.Equal(t, "explained", result)
	assert.Equal(t, []string{"a", "b"}, tried)
	assert.Empty(t, prefs.Excluded, "caller preferences are not modified")

	stats := h.f.GetProviderStats()
	assert.Equal(t, int64(1), stats["a"].FailureCount)
	assert.Equal(t, int64(1), stats["b"].SuccessCount)
	assert.Equal(t, int64(42), stats["b"].TotalTokens)
}

func TestCallWithFailover_FatalStops(t *testing.T) {
	h := newHarness(t, backendCfg("a", "openai", 0.001), backendCfg("b", "gemini", 0.002))

	calls := 0
	_, err := CallWithFailover(context.Background(), h.f, "", nil, 3,
		func(ctx context.Context, handle Handle) (any, Usage, error) {
			calls++
			return nil, Usage{}, &provider.StatusError{Code: 400, Body: "malformed"}
		})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "fatal error from provider")
}

func TestCallWithFailover_AllFail(t *testing.T) {
	h := newHarness(t, backendCfg("a", "openai", 0.001), backendCfg("b", "gemini", 0.002))

	calls := 0
	_, err := CallWithFailover(context.Background(), h.f, "", nil, 5,
		func(ctx context.Context, handle Handle) (any, Usage, error) {
			calls++
			return nil, Usage{}, errors.New("upstream reset")
		})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, ErrAllProvidersUnavailable)
	assert.Contains(t, err.Error(), "upstream reset")
}

func TestCallWithFailover_CanceledContextNotCharged(t *testing.T) {
	h := newHarness(t, backendCfg("a", "openai", 0.001))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := CallWithFailover(ctx, h.f, "", nil, 3,
		func(ctx context.Context, handle Handle) (any, Usage, error) {
			cancel()
			return nil, Usage{}, ctx.Err()
		})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.f.GetProviderStats()["a"].FailureCount)
}

func TestScoreCandidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	base := candidate{id: "a", vendor: "anthropic"}
	assert.InDelta(t, 1.15, scoreCandidate(base, OpFunctionExplanation, now, 5*time.Minute), 1e-9)

	expensive := base
	expensive.cost = 1
	assert.InDelta(t, 0.95, scoreCandidate(expensive, OpFunctionExplanation, now, 5*time.Minute), 1e-9)

	slow := base
	slow.latency = 30 * time.Second
	assert.InDelta(t, 0.95, scoreCandidate(slow, OpFunctionExplanation, now, 5*time.Minute), 1e-9)

	recent := base
	recent.stats.LastUsed = now.Add(-time.Minute)
	recent.stats.TotalRequests = 4
	recent.stats.SuccessCount = 3
	assert.InDelta(t, 0.75+0.15+0.05, scoreCandidate(recent, OpFunctionExplanation, now, 5*time.Minute), 1e-9)
}

func TestRankCandidates(t *testing.T) {
	cands := func() []candidate {
		return []candidate{
			{id: "a", cost: 0.03, latency: 0, score: 1.2},
			{id: "b", cost: 0.01, latency: 2 * time.Second, score: 0.9},
			{id: "c", cost: 0.01, latency: time.Second, score: 1.0},
		}
	}
	ids := func(cs []candidate) []string {
		out := make([]string, len(cs))
		for i, c := range cs {
			out[i] = c.id
		}
		return out
	}

	byScore := cands()
	rankCandidates(byScore, &provider.Preferences{})
	assert.Equal(t, []string{"a", "c", "b"}, ids(byScore))

	byCost := cands()
	rankCandidates(byCost, &provider.Preferences{CostOptimization: true})
	assert.Equal(t, []string{"c", "b", "a"}, ids(byCost))

	byLatency := cands()
	rankCandidates(byLatency, &provider.Preferences{PerformancePriority: true})
	assert.Equal(t, []string{"c", "b", "a"}, ids(byLatency))
}
