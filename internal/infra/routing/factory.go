// Package routing selects translation backends and tracks their health.
//
// This package contains:
//   - Factory: lazy backend construction, health cache, circuit breaker and selection
//   - scoring: success rate, operation affinity, cost, latency and recency terms
//   - CallWithFailover: invoke with automatic failover to the next backend
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/vietddude/binlens/internal/infra/provider"
	"github.com/vietddude/binlens/internal/resilience/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// FactoryConfig holds provider factory settings.
type FactoryConfig struct {
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
	HealthInterval   time.Duration `yaml:"health_interval"`
	HealthTimeout    time.Duration `yaml:"health_timeout"`
	InitTimeout      time.Duration `yaml:"init_timeout"`
	RecencyWindow    time.Duration `yaml:"recency_window"`
}

// DefaultFactoryConfig returns the settings used for zero fields.
func DefaultFactoryConfig() FactoryConfig {
	return FactoryConfig{
		BreakerThreshold: 5,
		BreakerCooldown:  10 * time.Minute,
		HealthInterval:   5 * time.Minute,
		HealthTimeout:    10 * time.Second,
		InitTimeout:      30 * time.Second,
		RecencyWindow:    5 * time.Minute,
	}
}

// WithDefaults replaces non-positive fields with their defaults.
func (c FactoryConfig) WithDefaults() FactoryConfig {
	d := DefaultFactoryConfig()
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = d.BreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = d.BreakerCooldown
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = d.HealthInterval
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = d.HealthTimeout
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = d.InitTimeout
	}
	if c.RecencyWindow <= 0 {
		c.RecencyWindow = d.RecencyWindow
	}
	return c
}

// Handle is a ready backend returned by GetProvider.
type Handle struct {
	ID      string
	Backend provider.Backend
	Config  provider.Config
}

// Status is the full view of one backend, for operators.
type Status struct {
	ID          string                 `json:"id"`
	Kind        provider.Kind          `json:"kind"`
	Vendor      string                 `json:"vendor"`
	Enabled     bool                   `json:"enabled"`
	Initialized bool                   `json:"initialized"`
	BreakerOpen bool                   `json:"breaker_open"`
	Throttled   bool                   `json:"throttled"`
	Stats       provider.Stats         `json:"stats"`
	Health      *provider.HealthStatus `json:"health,omitempty"`
}

type entry struct {
	cfg      provider.Config
	backend  provider.Backend
	stats    provider.Stats
	health   *provider.HealthStatus
	limiter  *rate.Limiter
	throttle *provider.ThrottleMonitor
}

// Factory owns the configured backends. It constructs them on first use,
// caches their health and picks one per request. Callers must report the
// outcome of every call with RecordRequestSuccess or RecordRequestFailure.
type Factory struct {
	cfg       FactoryConfig
	construct provider.Constructor
	log       *slog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	inits singleflight.Group
}

// NewFactory creates an empty factory. A nil construct uses provider.New.
func NewFactory(cfg FactoryConfig, construct provider.Constructor, log *slog.Logger) *Factory {
	if construct == nil {
		construct = provider.New
	}
	if log == nil {
		log = slog.Default()
	}
	return &Factory{
		cfg:       cfg.WithDefaults(),
		construct: construct,
		log:       log.With("component", "provider_factory"),
		now:       time.Now,
		entries:   make(map[string]*entry),
	}
}

// AddProvider registers a backend without constructing it.
func (f *Factory) AddProvider(cfg provider.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.entries[cfg.ID]; ok {
		return fmt.Errorf("provider %s already registered", cfg.ID)
	}
	f.entries[cfg.ID] = &entry{
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Every(f.cfg.HealthInterval), 1),
		throttle: provider.NewThrottleMonitor(),
	}
	f.order = append(f.order, cfg.ID)

	f.log.Info("Registered provider", "provider", cfg.ID, "kind", cfg.Kind, "vendor", cfg.Vendor)
	return nil
}

// Providers returns the registered ids in registration order.
func (f *Factory) Providers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.order)
}

// GetProvider returns a ready backend.
//
// A non-empty id is a strict pin: that backend or an *UnavailableError.
// Otherwise a pin from prefs (operation override, then Preferred) is returned
// when eligible, and scoring picks among the rest when fallback is enabled.
// Nothing eligible yields an *AllUnavailableError.
func (f *Factory) GetProvider(ctx context.Context, id, operationType string, prefs *provider.Preferences) (Handle, error) {
	if prefs == nil {
		prefs = provider.DefaultPreferences()
	}

	if id != "" {
		return f.acquire(ctx, id, operationType, prefs)
	}

	if pin := prefs.Pin(operationType); pin != "" {
		h, err := f.acquire(ctx, pin, operationType, prefs)
		if err == nil {
			return h, nil
		}
		if !prefs.FallbackEnabled {
			return Handle{}, err
		}
		f.log.Debug("Preferred provider unavailable, falling back", "provider", pin, "error", err)
	}

	return f.selectBest(ctx, operationType, prefs)
}

func (f *Factory) selectBest(ctx context.Context, operationType string, prefs *provider.Preferences) (Handle, error) {
	now := f.now()

	f.mu.RLock()
	configured := len(f.entries)
	lastErrors := make(map[string]string)
	var cands []candidate
	for _, id := range f.order {
		e := f.entries[id]
		if reason := f.ineligibleLocked(e, prefs, now); reason != "" {
			lastErrors[id] = reason
			continue
		}
		c := candidate{
			id:      id,
			vendor:  e.cfg.Vendor,
			cost:    costOf(e),
			latency: latencyOf(e),
			stats:   e.stats,
		}
		c.score = scoreCandidate(c, operationType, now, f.cfg.RecencyWindow)
		cands = append(cands, c)
	}
	f.mu.RUnlock()

	rankCandidates(cands, prefs)

	for _, c := range cands {
		h, err := f.acquire(ctx, c.id, operationType, prefs)
		if err == nil {
			return h, nil
		}
		lastErrors[c.id] = err.Error()
		if ctx.Err() != nil {
			break
		}
	}

	f.log.Warn("No provider available",
		"operation_type", operationType,
		"configured", configured,
		"candidates", len(cands),
	)
	return Handle{}, &AllUnavailableError{
		Configured:    configured,
		OperationType: operationType,
		LastErrors:    lastErrors,
	}
}

// acquire checks eligibility, initializes on first use and refreshes health
// when due. An open breaker fails before any construction or probe.
func (f *Factory) acquire(ctx context.Context, id, operationType string, prefs *provider.Preferences) (Handle, error) {
	now := f.now()

	f.mu.RLock()
	e, ok := f.entries[id]
	var reason string
	if ok {
		reason = f.ineligibleLocked(e, prefs, now)
	}
	f.mu.RUnlock()

	if !ok {
		return Handle{}, &UnavailableError{ID: id, Reason: "not configured", Err: ErrUnknownProvider}
	}
	if reason != "" {
		ue := &UnavailableError{ID: id, Reason: reason}
		if reason == ErrBreakerOpen.Error() {
			ue.Err = ErrBreakerOpen
		}
		return Handle{}, ue
	}

	backend, err := f.ensureInitialized(ctx, id)
	if err != nil {
		return Handle{}, &UnavailableError{ID: id, Reason: "initialization failed", Err: err}
	}

	if f.healthDue(e, now) {
		f.checkHealth(ctx, id, backend)
	}

	f.mu.RLock()
	hs := e.health
	cfg := e.cfg
	f.mu.RUnlock()

	if hs != nil && !hs.Healthy {
		var cause error
		if hs.Error != "" {
			cause = errors.New(hs.Error)
		}
		return Handle{}, &UnavailableError{ID: id, Reason: "unhealthy", Err: cause}
	}
	if hs != nil && !hs.WithinRateLimits {
		return Handle{}, &UnavailableError{ID: id, Reason: "outside rate limits"}
	}

	metrics.ProviderSelections.WithLabelValues(id, operationType).Inc()
	return Handle{ID: id, Backend: backend, Config: cfg}, nil
}

// ineligibleLocked returns why e cannot be selected, or "". A cached
// unhealthy snapshot does not disqualify a backend whose refresh is due.
func (f *Factory) ineligibleLocked(e *entry, prefs *provider.Preferences, now time.Time) string {
	id := e.cfg.ID
	refreshDue := e.limiter.TokensAt(now) >= 1

	switch {
	case !e.cfg.Enabled():
		return "disabled"
	case prefs.IsExcluded(id):
		return "excluded"
	case breakerOpen(e.stats, now, f.cfg.BreakerThreshold, f.cfg.BreakerCooldown):
		metrics.ProviderBreakerOpen.WithLabelValues(id).Set(1)
		return ErrBreakerOpen.Error()
	case prefs.MaxCost != nil && costOf(e) > *prefs.MaxCost:
		return "cost above limit"
	case e.throttle.Throttled(now):
		return "throttled"
	case !refreshDue && e.health != nil && !e.health.Healthy:
		return "unhealthy"
	case !refreshDue && e.health != nil && !e.health.WithinRateLimits:
		return "outside rate limits"
	case !refreshDue && !e.stats.IsHealthy():
		return "health checks failing"
	}
	metrics.ProviderBreakerOpen.WithLabelValues(id).Set(0)
	return ""
}

// ensureInitialized constructs and initializes the backend once, even under
// concurrent first use.
func (f *Factory) ensureInitialized(ctx context.Context, id string) (provider.Backend, error) {
	f.mu.RLock()
	e := f.entries[id]
	backend := e.backend
	f.mu.RUnlock()
	if backend != nil {
		return backend, nil
	}

	v, err, _ := f.inits.Do(id, func() (any, error) {
		f.mu.RLock()
		existing := e.backend
		cfg := e.cfg
		f.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		b, err := f.construct(cfg)
		if err != nil {
			return nil, fmt.Errorf("construct %s: %w", id, err)
		}

		initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.InitTimeout)
		defer cancel()
		if err := b.Initialize(initCtx); err != nil {
			f.mu.Lock()
			e.stats.RecordFailure(err, f.now())
			f.mu.Unlock()
			return nil, fmt.Errorf("initialize %s: %w", id, err)
		}

		f.mu.Lock()
		e.backend = b
		f.mu.Unlock()

		f.log.Info("Initialized provider", "provider", id)
		return b, nil
	})
	if err != nil {
		f.log.Warn("Failed to initialize provider", "provider", id, "error", err)
		return nil, err
	}
	return v.(provider.Backend), nil
}

// healthDue takes the refresh token of e when one is available.
func (f *Factory) healthDue(e *entry, now time.Time) bool {
	return e.limiter.AllowN(now, 1)
}

func (f *Factory) checkHealth(ctx context.Context, id string, backend provider.Backend) provider.HealthStatus {
	hctx, cancel := context.WithTimeout(ctx, f.cfg.HealthTimeout)
	defer cancel()

	hs, err := backend.HealthCheck(hctx)
	if err != nil {
		hs.Healthy = false
		if hs.Error == "" {
			hs.Error = err.Error()
		}
	}
	if hs.LastCheck.IsZero() {
		hs.LastCheck = f.now()
	}

	f.mu.Lock()
	if e, ok := f.entries[id]; ok {
		e.health = &hs
		e.stats.RecordHealthCheck(hs.Healthy)
	}
	f.mu.Unlock()

	if hs.Healthy {
		metrics.ProviderHealthy.WithLabelValues(id).Set(1)
	} else {
		metrics.ProviderHealthy.WithLabelValues(id).Set(0)
		f.log.Warn("Provider health check failed", "provider", id, "error", hs.Error)
	}
	return hs
}

// RefreshHealth probes every enabled backend whose refresh interval has
// elapsed, initializing it first when needed.
func (f *Factory) RefreshHealth(ctx context.Context) {
	now := f.now()

	f.mu.RLock()
	var due []string
	for _, id := range f.order {
		e := f.entries[id]
		if e.cfg.Enabled() && f.healthDue(e, now) {
			due = append(due, id)
		}
	}
	f.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range due {
		g.Go(func() error {
			backend, err := f.ensureInitialized(gctx, id)
			if err != nil {
				f.mu.Lock()
				if e, ok := f.entries[id]; ok {
					e.health = &provider.HealthStatus{LastCheck: f.now(), Error: err.Error()}
					e.stats.RecordHealthCheck(false)
				}
				f.mu.Unlock()
				metrics.ProviderHealthy.WithLabelValues(id).Set(0)
				return nil
			}
			f.checkHealth(gctx, id, backend)
			return nil
		})
	}
	_ = g.Wait()
}

// RecordRequestSuccess reports a successful call to backend id.
func (f *Factory) RecordRequestSuccess(id string, tokens int, cost float64, latency time.Duration) {
	f.mu.Lock()
	e, ok := f.entries[id]
	if ok {
		e.stats.RecordSuccess(tokens, cost, latency, f.now())
	}
	f.mu.Unlock()
	if !ok {
		f.log.Debug("Success reported for unknown provider", "provider", id)
		return
	}

	metrics.ProviderRequests.WithLabelValues(id, "success").Inc()
	metrics.ProviderLatency.WithLabelValues(id).Observe(max(latency, 0).Seconds())
	metrics.ProviderTokens.WithLabelValues(id).Add(float64(max(tokens, 0)))
	metrics.ProviderCost.WithLabelValues(id).Add(max(cost, 0))
	metrics.ProviderBreakerOpen.WithLabelValues(id).Set(0)
}

// RecordRequestFailure reports a failed call to backend id. Rate-limit
// responses also put the backend outside its limits for the retry-after window.
func (f *Factory) RecordRequestFailure(id string, err error) {
	now := f.now()

	f.mu.Lock()
	e, ok := f.entries[id]
	var open bool
	if ok {
		e.stats.RecordFailure(err, now)
		open = breakerOpen(e.stats, now, f.cfg.BreakerThreshold, f.cfg.BreakerCooldown)
	}
	f.mu.Unlock()
	if !ok {
		f.log.Debug("Failure reported for unknown provider", "provider", id)
		return
	}

	metrics.ProviderRequests.WithLabelValues(id, "failure").Inc()

	if code, retryAfter, throttled := e.throttle.Classify(err); throttled {
		e.throttle.RecordThrottle(code, retryAfter, now)
		metrics.ProviderThrottled.WithLabelValues(id).Inc()
		f.log.Warn("Provider throttled", "provider", id, "status", code, "retry_after", e.throttle.RetryAfter(now))
	}

	if open {
		metrics.ProviderBreakerOpen.WithLabelValues(id).Set(1)
		f.log.Warn("Provider circuit breaker open", "provider", id, "error", err)
	}
}

// GetProviderStats returns a copy of the statistics of every backend.
func (f *Factory) GetProviderStats() map[string]provider.Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]provider.Stats, len(f.entries))
	for id, e := range f.entries {
		out[id] = e.stats
	}
	return out
}

// ProviderHealth returns the cached health of every backend checked so far.
func (f *Factory) ProviderHealth() map[string]provider.HealthStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]provider.HealthStatus)
	for id, e := range f.entries {
		if e.health != nil {
			hs := *e.health
			hs.Models = slices.Clone(hs.Models)
			out[id] = hs
		}
	}
	return out
}

// Statuses returns the operator view of every backend in registration order.
func (f *Factory) Statuses() []Status {
	now := f.now()

	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Status, 0, len(f.order))
	for _, id := range f.order {
		e := f.entries[id]
		st := Status{
			ID:          id,
			Kind:        e.cfg.Kind,
			Vendor:      e.cfg.Vendor,
			Enabled:     e.cfg.Enabled(),
			Initialized: e.backend != nil,
			BreakerOpen: breakerOpen(e.stats, now, f.cfg.BreakerThreshold, f.cfg.BreakerCooldown),
			Throttled:   e.throttle.Throttled(now),
			Stats:       e.stats,
		}
		if e.health != nil {
			hs := *e.health
			st.Health = &hs
		}
		out = append(out, st)
	}
	return out
}

// BreakerRemaining returns how long the breaker of id stays open, zero when closed.
func (f *Factory) BreakerRemaining(id string) time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[id]
	if !ok {
		return 0
	}
	return breakerRemaining(e.stats, f.now(), f.cfg.BreakerThreshold, f.cfg.BreakerCooldown)
}

// ClearStats resets the statistics and throttle state of id, or of every
// backend when id is empty.
func (f *Factory) ClearStats(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for eid, e := range f.entries {
		if id != "" && eid != id {
			continue
		}
		e.stats = provider.Stats{}
		e.throttle.Reset()
		metrics.ProviderBreakerOpen.WithLabelValues(eid).Set(0)
	}
}

// Cleanup tears down every initialized backend. Backends are constructed
// again on next use.
func (f *Factory) Cleanup(ctx context.Context) error {
	f.mu.Lock()
	backends := make(map[string]provider.Backend)
	for id, e := range f.entries {
		if e.backend != nil {
			backends[id] = e.backend
			e.backend = nil
		}
	}
	f.mu.Unlock()

	var errs []error
	for _, id := range slices.Sorted(maps.Keys(backends)) {
		if err := backends[id].Cleanup(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cleanup %s: %w", id, err))
			continue
		}
		f.log.Info("Cleaned up provider", "provider", id)
	}
	return errors.Join(errs...)
}

func costOf(e *entry) float64 {
	if e.health != nil && e.health.CostPerToken != nil {
		return *e.health.CostPerToken
	}
	return e.cfg.CostPerToken
}

func latencyOf(e *entry) time.Duration {
	if e.stats.AvgLatency > 0 {
		return e.stats.AvgLatency
	}
	if e.health != nil && e.health.Latency != nil {
		return *e.health.Latency
	}
	return 0
}
