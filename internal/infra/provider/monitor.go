package provider

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultThrottleWindow = 60 * time.Second
	blockedWindow         = 10 * time.Minute
)

// ThrottleMonitor tracks rate limiting reported by one backend.
type ThrottleMonitor struct {
	mu sync.RWMutex

	patterns     []string
	count429     int
	count403     int
	lastThrottle time.Time
	window       time.Duration
}

// NewThrottleMonitor creates a monitor with the default throttle patterns.
func NewThrottleMonitor() *ThrottleMonitor {
	return &ThrottleMonitor{
		patterns: []string{
			"rate limit",
			"too many requests",
			"quota exceeded",
			"overloaded",
			"tokens per minute",
			"requests per minute",
		},
	}
}

// RecordThrottle records a rate-limit (429) or block (403) response. A
// positive retryAfter overrides the default window.
func (m *ThrottleMonitor) RecordThrottle(statusCode int, retryAfter time.Duration, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastThrottle = now
	if statusCode == http.StatusForbidden {
		m.count403++
		m.window = blockedWindow
	} else {
		m.count429++
		m.window = defaultThrottleWindow
	}
	if retryAfter > 0 {
		m.window = retryAfter
	}
}

// Throttled reports whether the backend is still inside its retry-after window.
func (m *ThrottleMonitor) Throttled(now time.Time) bool {
	return m.RetryAfter(now) > 0
}

// RetryAfter returns the time left in the current throttle window.
func (m *ThrottleMonitor) RetryAfter(now time.Time) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastThrottle.IsZero() {
		return 0
	}
	return max(0, m.lastThrottle.Add(m.window).Sub(now))
}

// Counts returns the number of 429 and 403 responses seen.
func (m *ThrottleMonitor) Counts() (rateLimited, blocked int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count429, m.count403
}

// Reset forgets all throttle state.
func (m *ThrottleMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count429, m.count403 = 0, 0
	m.lastThrottle = time.Time{}
	m.window = 0
}

// DetectThrottlePattern checks if a message looks like a rate-limit response.
func (m *ThrottleMonitor) DetectThrottlePattern(message string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lower := strings.ToLower(message)
	for _, p := range m.patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Classify extracts throttle details from a request error. It understands
// HTTP StatusError values, gRPC ResourceExhausted with RetryInfo, and known
// rate-limit messages.
func (m *ThrottleMonitor) Classify(err error) (statusCode int, retryAfter time.Duration, ok bool) {
	if err == nil {
		return 0, 0, false
	}

	var se *StatusError
	if errors.As(err, &se) {
		if se.Code == http.StatusTooManyRequests || se.Code == http.StatusForbidden {
			return se.Code, se.RetryAfter, true
		}
		return 0, 0, false
	}

	if st, isStatus := status.FromError(err); isStatus && st.Code() == codes.ResourceExhausted {
		for _, d := range st.Details() {
			if info, isInfo := d.(*errdetails.RetryInfo); isInfo && info.GetRetryDelay() != nil {
				retryAfter = info.GetRetryDelay().AsDuration()
			}
		}
		return http.StatusTooManyRequests, retryAfter, true
	}

	if m.DetectThrottlePattern(err.Error()) {
		return http.StatusTooManyRequests, 0, true
	}
	return 0, 0, false
}
