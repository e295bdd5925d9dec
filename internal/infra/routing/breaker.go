package routing

import (
	"time"

	"github.com/vietddude/binlens/internal/infra/provider"
)

// breakerOpen reports whether a backend must be skipped: more than threshold
// consecutive failures with the last use inside the cool-down. Once the
// cool-down has passed the breaker closes whatever the failure count.
func breakerOpen(s provider.Stats, now time.Time, threshold int, cooldown time.Duration) bool {
	return s.ConsecutiveFailures > threshold && now.Sub(s.LastUsed) < cooldown
}

// breakerRemaining returns how long an open breaker stays open.
func breakerRemaining(s provider.Stats, now time.Time, threshold int, cooldown time.Duration) time.Duration {
	if !breakerOpen(s, now, threshold, cooldown) {
		return 0
	}
	return s.LastUsed.Add(cooldown).Sub(now)
}
