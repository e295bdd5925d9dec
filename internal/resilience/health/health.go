// Package health provides backend health monitoring and status reporting.
package health

import (
	"github.com/vietddude/binlens/internal/infra/routing"
	"github.com/vietddude/binlens/internal/resilience/recovery"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
	StatusDisabled SystemStatus = "disabled"
)

// ProviderHealth is the evaluated state of one backend.
type ProviderHealth struct {
	Status SystemStatus   `json:"status"`
	Detail routing.Status `json:"detail"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus              `json:"system_status"`
	Providers    map[string]ProviderHealth `json:"providers"`
	Recovery     *recovery.Summary         `json:"recovery,omitempty"`
}

// evaluate maps one backend status to a health state. An unchecked backend
// counts as healthy until its first probe.
func evaluate(st routing.Status) SystemStatus {
	switch {
	case !st.Enabled:
		return StatusDisabled
	case st.BreakerOpen:
		return StatusCritical
	case st.Health != nil && !st.Health.Healthy:
		return StatusCritical
	case st.Throttled:
		return StatusDegraded
	case st.Health != nil && !st.Health.WithinRateLimits:
		return StatusDegraded
	case st.Stats.TotalRequests >= 10 && st.Stats.FailureRate() > 0.5:
		return StatusDegraded
	}
	return StatusHealthy
}

// aggregate is critical when no enabled backend is healthy or degraded,
// degraded when any enabled backend is not healthy.
func aggregate(providers map[string]ProviderHealth) SystemStatus {
	var enabled, usable int
	status := StatusHealthy
	for _, p := range providers {
		if p.Status == StatusDisabled {
			continue
		}
		enabled++
		switch p.Status {
		case StatusHealthy:
			usable++
		case StatusDegraded:
			usable++
			status = StatusDegraded
		case StatusCritical:
			status = StatusDegraded
		}
	}
	if enabled == 0 || usable == 0 {
		return StatusCritical
	}
	return status
}
