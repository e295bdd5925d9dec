package recovery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/binlens/internal/core/domain"
	"github.com/vietddude/binlens/internal/resilience/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Scope is one recovered operation. Execute calls run one at a time; once an
// Execute fails or the scope is closed, later calls return ErrScopeClosed.
// Records are mirrored to the journal when the scope closes.
type Scope struct {
	m   *Manager
	req Request

	run sync.Mutex

	mu       sync.Mutex
	done     bool
	salvaged bool
	pending  []domain.OperationError
	partial  *domain.PartialResult

	closeOnce sync.Once
	closeErr  error
}

// Scope opens a scope for req. The caller must Close it.
func (m *Manager) Scope(req Request) *Scope {
	return &Scope{m: m, req: m.normalize(req)}
}

// Request returns the normalized request of the scope.
func (s *Scope) Request() Request { return s.req }

// Execute runs op with deadline, retry and salvage handling.
func (s *Scope) Execute(ctx context.Context, op Operation) (any, error) {
	s.run.Lock()
	defer s.run.Unlock()

	s.mu.Lock()
	closed := s.done
	s.mu.Unlock()
	if closed {
		return nil, ErrScopeClosed
	}

	req := s.req
	ctx, span := tracer.Start(ctx, "recovery."+req.Name, spanAttrs(req))
	defer span.End()

	restart := false
	var prevDelay time.Duration
	for attempt := 0; ; attempt++ {
		metrics.RecoveryAttempts.WithLabelValues(req.Component, req.Name).Inc()

		var (
			result any
			err    error
		)
		if restart && req.OnRestart != nil {
			if rerr := s.m.restart(ctx, req, attempt); rerr != nil {
				err = fmt.Errorf("restart %s: %w", req.Name, rerr)
			}
		}
		if err == nil {
			result, err = s.m.runAttempt(ctx, req, attempt, op)
			if err == nil {
				span.SetAttributes(attribute.Int("recovery.attempts", attempt+1))
				span.SetStatus(codes.Ok, "")
				metrics.RecoveryOutcomes.WithLabelValues(req.Component, "success").Inc()
				if attempt > 0 {
					s.m.log.Info("Operation recovered",
						"operation", req.Name,
						"attempts", attempt+1,
					)
				}
				return result, nil
			}
		}

		category := Categorize(err)
		strategy := s.m.table.Lookup(category)
		rec := s.m.newRecord(req, attempt, err, category, strategy)

		if ctx.Err() != nil || !strategy.ShouldRetry(attempt, req.MaxRetries) {
			return nil, s.fail(span, req, attempt, err, rec, ctx.Err() != nil || !strategy.Retryable)
		}

		// Mixed categories in one scope must not shorten the wait.
		delay := max(strategy.GetDelay(s.m.cfg.BackoffUnit, attempt), prevDelay+s.m.cfg.BackoffUnit)
		prevDelay = delay
		rec.RecoveryAttempted = true
		rec.Backoff = delay
		rec.Outcome = domain.OutcomeRetrying
		if strategy.Action == domain.ActionRestart {
			rec.Outcome = domain.OutcomeRestarting
		}
		s.record(rec)

		s.m.log.Warn("Operation failed, recovering",
			"operation", req.Name,
			"attempt", attempt+1,
			"max_attempts", req.MaxRetries+1,
			"category", category,
			"severity", strategy.Severity,
			"action", strategy.Action,
			"backoff", delay,
			"error", err,
		)
		span.AddEvent("retry", traceAttrs(rec))
		metrics.RecoveryBackoff.WithLabelValues(string(category)).Observe(delay.Seconds())

		if serr := s.m.sleep(ctx, delay); serr != nil {
			// Cancelled while backing off: the last failure stands as an abort.
			final := rec
			final.ID = uuid.New().String()
			final.Timestamp = time.Now()
			final.Backoff = 0
			return nil, s.fail(span, req, attempt, errors.Join(err, serr), final, true)
		}
		restart = strategy.Action == domain.ActionRestart
	}
}

// fail records the final error, salvages and marks the scope done.
func (s *Scope) fail(span trace.Span, req Request, attempt int, err error, rec domain.OperationError, aborted bool) error {
	partial := s.salvage(rec.Severity)

	rec.Action = domain.ActionAbort
	if partial != nil {
		rec.Action = domain.ActionSalvageAbort
		rec.RecoveryAttempted = true
	}
	rec.Outcome = domain.OutcomeExhausted
	if aborted {
		rec.Outcome = domain.OutcomeAborted
	}
	s.record(rec)

	s.mu.Lock()
	s.done = true
	s.mu.Unlock()

	ferr := &Error{
		Operation: req.Name,
		Attempts:  attempt + 1,
		Last:      rec,
		Partial:   partial,
		Err:       err,
		aborted:   aborted,
	}

	s.m.log.Error("Operation failed",
		"operation", req.Name,
		"attempts", attempt+1,
		"category", rec.Category,
		"severity", rec.Severity,
		"outcome", rec.Outcome,
		"partial", partial != nil,
		"error", err,
	)
	metrics.RecoveryOutcomes.WithLabelValues(req.Component, string(rec.Outcome)).Inc()
	span.RecordError(ferr)
	span.SetStatus(codes.Error, ferr.Error())
	return ferr
}

// salvage builds a partial result from the request progress, at most once per
// scope. No finished steps or no recorded state means nothing is salvaged.
func (s *Scope) salvage(severity domain.ErrorSeverity) *domain.PartialResult {
	if s.req.Progress == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.salvaged {
		return nil
	}

	snap := s.req.Progress.Snapshot()
	completeness := snap.Completeness()
	if completeness == 0 || len(snap.State) == 0 {
		return nil
	}
	s.salvaged = true

	p := domain.PartialResult{
		ID:             uuid.New().String(),
		Component:      s.req.Component,
		Operation:      s.req.Name,
		Payload:        snap.State,
		CompletedSteps: snap.Completed,
		Completeness:   completeness,
		Confidence:     completeness * confidenceDiscount(severity),
		Timestamp:      time.Now(),
	}
	s.partial = &p
	s.m.appendPartial(p)

	s.m.log.Info("Salvaged partial result",
		"operation", s.req.Name,
		"completed_steps", len(p.CompletedSteps),
		"completeness", p.Completeness,
		"confidence", p.Confidence,
	)
	return &p
}

// confidenceDiscount lowers trust in output salvaged after worse failures.
func confidenceDiscount(severity domain.ErrorSeverity) float64 {
	switch severity {
	case domain.SeverityLow:
		return 0.9
	case domain.SeverityMedium:
		return 0.8
	case domain.SeverityHigh:
		return 0.7
	default:
		return 0.5
	}
}

func (s *Scope) record(rec domain.OperationError) {
	s.m.appendError(rec)
	s.mu.Lock()
	s.pending = append(s.pending, rec)
	s.mu.Unlock()
}

// Errors returns the records produced by this scope so far.
func (s *Scope) Errors() []domain.OperationError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pending)
}

// Partial returns the salvaged result, if any.
func (s *Scope) Partial() *domain.PartialResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial
}

// Close ends the scope and flushes its records to the journal. It is safe to
// call more than once; only the first call writes.
func (s *Scope) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.done = true
		pending := slices.Clone(s.pending)
		partial := s.partial
		s.mu.Unlock()

		s.closeErr = s.flush(pending, partial)
	})
	return s.closeErr
}

func (s *Scope) flush(errs []domain.OperationError, partial *domain.PartialResult) error {
	j := s.m.journal
	if j == nil || (len(errs) == 0 && partial == nil) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.m.cfg.JournalTimeout)
	defer cancel()

	var errList []error
	if len(errs) > 0 {
		if err := j.RecordErrors(ctx, errs); err != nil {
			errList = append(errList, fmt.Errorf("record errors: %w", err))
		}
	}
	if partial != nil {
		if err := j.RecordPartial(ctx, *partial); err != nil {
			errList = append(errList, fmt.Errorf("record partial result: %w", err))
		}
	}
	return errors.Join(errList...)
}
