package recovery

import "time"

// Deadline bounds a single attempt of an operation.
type Deadline struct {
	Operation string
	Timeout   time.Duration
	StartedAt time.Time

	// WarnAfter is the elapsed time after which a slow attempt is logged.
	WarnAfter time.Duration

	// Grace is how long an expired attempt may take to unwind before it is abandoned.
	Grace time.Duration
}

// NewDeadline starts a deadline now.
func NewDeadline(operation string, timeout time.Duration, warnRatio float64, grace time.Duration) Deadline {
	if warnRatio <= 0 || warnRatio >= 1 {
		warnRatio = 0.8
	}
	return Deadline{
		Operation: operation,
		Timeout:   timeout,
		StartedAt: time.Now(),
		WarnAfter: time.Duration(float64(timeout) * warnRatio),
		Grace:     grace,
	}
}

// ExpiresAt is the instant the attempt is cancelled.
func (d Deadline) ExpiresAt() time.Time {
	return d.StartedAt.Add(d.Timeout)
}

// Remaining returns the time left before expiry, never negative.
func (d Deadline) Remaining(now time.Time) time.Duration {
	return max(0, d.ExpiresAt().Sub(now))
}

// Expired reports whether the deadline has passed at now.
func (d Deadline) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt())
}
