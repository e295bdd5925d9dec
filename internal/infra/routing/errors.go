package routing

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	// ErrProviderUnavailable is matched by every UnavailableError.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrAllProvidersUnavailable is matched by every AllUnavailableError.
	ErrAllProvidersUnavailable = errors.New("all providers unavailable")

	// ErrUnknownProvider is the cause of an UnavailableError for an id that was never added.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrBreakerOpen is the cause of an UnavailableError for a backend whose circuit breaker is open.
	ErrBreakerOpen = errors.New("circuit breaker open")
)

// UnavailableError reports that one specific backend cannot serve a request.
type UnavailableError struct {
	ID     string
	Reason string
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Reason {
		return fmt.Sprintf("provider %s unavailable: %s: %v", e.ID, e.Reason, e.Err)
	}
	return fmt.Sprintf("provider %s unavailable: %s", e.ID, e.Reason)
}

func (e *UnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProviderUnavailable}
	}
	return []error{ErrProviderUnavailable, e.Err}
}

// AllUnavailableError reports that no configured backend could serve a request.
type AllUnavailableError struct {
	Configured    int
	OperationType string

	// LastErrors maps backend id to the reason it was skipped or failed.
	LastErrors map[string]string
}

func (e *AllUnavailableError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all %d configured providers unavailable", e.Configured)
	if e.OperationType != "" {
		fmt.Fprintf(&b, " for %s", e.OperationType)
	}
	if len(e.LastErrors) > 0 {
		b.WriteString(":")
		for _, id := range slices.Sorted(maps.Keys(e.LastErrors)) {
			fmt.Fprintf(&b, " %s=%q", id, e.LastErrors[id])
		}
	}
	return b.String()
}

func (e *AllUnavailableError) Is(target error) bool {
	return target == ErrAllProvidersUnavailable
}
