package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/binlens/internal/core/domain"
	"github.com/vietddude/binlens/internal/infra/provider"
	"github.com/vietddude/binlens/internal/resilience/recovery"
)

// ErrorAction determines how a failed backend call is handled.
type ErrorAction int

const (
	ActionFailover ErrorAction = iota // try the next backend
	ActionFatal                       // the request itself is bad, stop
)

// ClassifyError determines the action for a failed backend call.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionFailover
	}
	if errors.Is(err, context.Canceled) {
		return ActionFatal
	}
	if recovery.Categorize(err) == domain.CategoryInvalidInput {
		return ActionFatal
	}

	var se *provider.StatusError
	if errors.As(err, &se) && se.Code == 400 {
		return ActionFatal
	}

	s := strings.ToLower(err.Error())
	if strings.Contains(s, "context length") || strings.Contains(s, "prompt is too long") {
		return ActionFatal
	}
	return ActionFailover
}

// Usage is what one backend call consumed.
type Usage struct {
	Tokens int
	Cost   float64
}

// Call invokes a domain operation on the selected backend.
type Call func(ctx context.Context, h Handle) (any, Usage, error)

// CallWithFailover selects a backend, invokes fn and reports the outcome to
// the factory. A failed backend is excluded and the next one is tried, up to
// maxAttempts backends.
func CallWithFailover(
	ctx context.Context,
	f *Factory,
	operationType string,
	prefs *provider.Preferences,
	maxAttempts int,
	fn Call,
) (any, error) {
	if prefs == nil {
		prefs = provider.DefaultPreferences()
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		h, err := f.GetProvider(ctx, "", operationType, prefs)
		if err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("%w (last call error: %w)", err, lastErr)
			}
			return nil, err
		}

		start := time.Now()
		result, usage, err := fn(ctx, h)
		latency := time.Since(start)
		if err == nil {
			f.RecordRequestSuccess(h.ID, usage.Tokens, usage.Cost, latency)
			return result, nil
		}

		if ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
		f.RecordRequestFailure(h.ID, err)

		if ClassifyError(err) == ActionFatal {
			return nil, fmt.Errorf("fatal error from provider %s: %w", h.ID, err)
		}
		prefs = prefs.Exclude(h.ID)
	}

	return nil, fmt.Errorf("all providers failed after %d attempts: %w", maxAttempts, lastErr)
}
