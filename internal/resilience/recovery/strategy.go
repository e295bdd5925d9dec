package recovery

import (
	"fmt"
	"time"

	"github.com/vietddude/binlens/internal/core/domain"
)

// Strategy defines how failures of one category are handled.
type Strategy struct {
	Severity  domain.ErrorSeverity
	Action    domain.RecoveryAction
	Retryable bool

	// BackoffFactor scales the linear backoff unit for this category.
	BackoffFactor float64
}

// GetDelay returns the wait after the given failed attempt (0-indexed):
// unit * factor * (attempt+1). It strictly increases with attempt.
func (s Strategy) GetDelay(unit time.Duration, attempt int) time.Duration {
	return time.Duration(float64(unit) * s.BackoffFactor * float64(attempt+1))
}

// ShouldRetry checks if the category is retryable and attempts remain.
func (s Strategy) ShouldRetry(attempt, maxRetries int) bool {
	return s.Retryable && attempt < maxRetries
}

// Table maps every error category to its strategy.
type Table map[domain.ErrorCategory]Strategy

// DefaultTable is the fixed classification used by the recovery manager.
//
//	timeout            -> MEDIUM,   RETRY,   1x backoff
//	connection lost    -> HIGH,     RESTART, 2x backoff
//	invalid input      -> LOW,      ABORT
//	resource exhausted -> CRITICAL, ABORT
//	unknown            -> LOW,      RETRY,   1x backoff
func DefaultTable() Table {
	return Table{
		domain.CategoryTimeout: {
			Severity:      domain.SeverityMedium,
			Action:        domain.ActionRetry,
			Retryable:     true,
			BackoffFactor: 1,
		},
		domain.CategoryConnectionLost: {
			Severity:      domain.SeverityHigh,
			Action:        domain.ActionRestart,
			Retryable:     true,
			BackoffFactor: 2,
		},
		domain.CategoryInvalidInput: {
			Severity: domain.SeverityLow,
			Action:   domain.ActionAbort,
		},
		domain.CategoryResourceExhausted: {
			Severity: domain.SeverityCritical,
			Action:   domain.ActionAbort,
		},
		domain.CategoryUnknown: {
			Severity:      domain.SeverityLow,
			Action:        domain.ActionRetry,
			Retryable:     true,
			BackoffFactor: 1,
		},
	}
}

// Lookup returns the strategy for category, falling back to the unknown entry.
func (t Table) Lookup(category domain.ErrorCategory) Strategy {
	if s, ok := t[category]; ok {
		return s
	}
	return t[domain.CategoryUnknown]
}

// Validate checks that every category has an entry and that retryable
// entries back off.
func (t Table) Validate() error {
	for _, c := range domain.Categories {
		s, ok := t[c]
		if !ok {
			return fmt.Errorf("no strategy for category %s", c)
		}
		if s.Retryable && s.BackoffFactor <= 0 {
			return fmt.Errorf("retryable category %s needs a positive backoff factor", c)
		}
	}
	return nil
}
