package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/binlens/internal/infra/routing"
	"github.com/vietddude/binlens/internal/resilience/recovery"
)

// ProviderSource is the part of the provider factory the monitor reads.
type ProviderSource interface {
	RefreshHealth(ctx context.Context)
	Statuses() []routing.Status
}

// RecoverySource is the part of the recovery manager the monitor reads.
type RecoverySource interface {
	Summary() recovery.Summary
}

// Monitor refreshes backend health on an interval and aggregates status
// reports.
type Monitor struct {
	providers ProviderSource
	recovery  RecoverySource
	interval  time.Duration
	cacheTTL  time.Duration
	log       *slog.Logger

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
}

// NewMonitor creates a new health monitor. recovery may be nil.
func NewMonitor(providers ProviderSource, recovery RecoverySource, interval time.Duration, log *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		providers: providers,
		recovery:  recovery,
		interval:  interval,
		cacheTTL:  10 * time.Second,
		log:       log.With("component", "health_monitor"),
	}
}

// Start refreshes backend health every interval until ctx is done. The
// factory skips backends whose own refresh interval has not elapsed.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.providers.RefreshHealth(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.providers.RefreshHealth(ctx)
			report := m.CheckHealth(ctx)
			if report.SystemStatus != StatusHealthy {
				m.log.Warn("System health", "status", report.SystemStatus)
			}
		}
	}
}

// CheckHealth builds a report from cached state. Reports are reused for a
// short time to keep the endpoints cheap.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.cacheTTL {
		return *m.lastReport
	}

	report := HealthReport{Providers: make(map[string]ProviderHealth)}
	for _, st := range m.providers.Statuses() {
		report.Providers[st.ID] = ProviderHealth{Status: evaluate(st), Detail: st}
	}
	report.SystemStatus = aggregate(report.Providers)

	if m.recovery != nil {
		summary := m.recovery.Summary()
		report.Recovery = &summary
	}

	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}

// Invalidate drops the cached report.
func (m *Monitor) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReport = nil
}
