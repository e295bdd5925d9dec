package domain

import "fmt"

// ErrorSeverity ranks a classified failure. It only drives the choice of
// recovery action.
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s ErrorSeverity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// RecoveryAction is what the recovery manager does after a failed attempt.
type RecoveryAction int

const (
	ActionRetry        RecoveryAction = iota // run the operation again after backoff
	ActionRestart                            // reinitialize the failed resource, then run again
	ActionSalvageAbort                       // keep whatever partial output exists and stop
	ActionAbort                              // stop immediately
)

func (a RecoveryAction) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionRestart:
		return "restart"
	case ActionSalvageAbort:
		return "salvage_abort"
	case ActionAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// ErrorCategory is the closed set of failure families the recovery strategy
// table is keyed by.
type ErrorCategory string

const (
	CategoryTimeout           ErrorCategory = "timeout"
	CategoryConnectionLost    ErrorCategory = "connection_lost"
	CategoryInvalidInput      ErrorCategory = "invalid_input"
	CategoryResourceExhausted ErrorCategory = "resource_exhausted"
	CategoryUnknown           ErrorCategory = "unknown"
)

// Categories lists every ErrorCategory.
var Categories = []ErrorCategory{
	CategoryTimeout,
	CategoryConnectionLost,
	CategoryInvalidInput,
	CategoryResourceExhausted,
	CategoryUnknown,
}

func (s ErrorSeverity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ErrorSeverity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "low":
		*s = SeverityLow
	case "medium":
		*s = SeverityMedium
	case "high":
		*s = SeverityHigh
	case "critical":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %q", b)
	}
	return nil
}

func (a RecoveryAction) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *RecoveryAction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "retry":
		*a = ActionRetry
	case "restart":
		*a = ActionRestart
	case "salvage_abort":
		*a = ActionSalvageAbort
	case "abort":
		*a = ActionAbort
	default:
		return fmt.Errorf("unknown recovery action %q", b)
	}
	return nil
}
