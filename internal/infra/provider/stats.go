package provider

import "time"

// LatencyAlpha is the smoothing factor of the latency moving average.
const LatencyAlpha = 0.3

// healthCheckFailureLimit is how many failed probes in a row mark a backend unhealthy.
const healthCheckFailureLimit = 3

// Stats are the rolling request statistics of one backend.
type Stats struct {
	TotalRequests                  int64         `json:"total_requests"`
	SuccessCount                   int64         `json:"success_count"`
	FailureCount                   int64         `json:"failure_count"`
	TotalTokens                    int64         `json:"total_tokens"`
	TotalCost                      float64       `json:"total_cost"`
	AvgLatency                     time.Duration `json:"avg_latency"`
	LastUsed                       time.Time     `json:"last_used"`
	LastError                      string        `json:"last_error,omitempty"`
	ConsecutiveFailures            int           `json:"consecutive_failures"`
	ConsecutiveHealthCheckFailures int           `json:"consecutive_health_check_failures"`
}

// RecordSuccess accounts one successful request.
func (s *Stats) RecordSuccess(tokens int, cost float64, latency time.Duration, now time.Time) {
	s.TotalRequests++
	s.SuccessCount++
	s.TotalTokens += int64(max(tokens, 0))
	s.TotalCost += max(cost, 0)
	s.LastUsed = now
	s.ConsecutiveFailures = 0

	latency = max(latency, 0)
	if s.AvgLatency == 0 {
		s.AvgLatency = latency
	} else {
		s.AvgLatency = time.Duration(float64(s.AvgLatency)*(1-LatencyAlpha) + float64(latency)*LatencyAlpha)
	}
}

// RecordFailure accounts one failed request.
func (s *Stats) RecordFailure(err error, now time.Time) {
	s.TotalRequests++
	s.FailureCount++
	s.ConsecutiveFailures++
	s.LastUsed = now
	if err != nil {
		s.LastError = err.Error()
	}
}

// RecordHealthCheck accounts the result of one probe.
func (s *Stats) RecordHealthCheck(healthy bool) {
	if healthy {
		s.ConsecutiveHealthCheckFailures = 0
		return
	}
	s.ConsecutiveHealthCheckFailures++
}

// SuccessRate is successes over requests, 1 before any request.
func (s Stats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 1
	}
	return float64(s.SuccessCount) / float64(s.TotalRequests)
}

// FailureRate is failures over requests, 0 before any request.
func (s Stats) FailureRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.FailureCount) / float64(s.TotalRequests)
}

// IsHealthy reports whether health probes have not failed repeatedly.
// Request failures are handled by the circuit breaker instead.
func (s Stats) IsHealthy() bool {
	return s.ConsecutiveHealthCheckFailures < healthCheckFailureLimit
}
