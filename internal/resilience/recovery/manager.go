package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/binlens/internal/core/domain"
	"github.com/vietddude/binlens/internal/resilience/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("binlens.recovery")

// DefaultRetries selects Config.DefaultMaxRetries for a request.
const DefaultRetries = -1

// Operation is one attempt of the wrapped work. It should return once ctx is done.
type Operation func(ctx context.Context) (any, error)

// Request describes one recovered operation.
type Request struct {
	Name      string
	Component string

	// Timeout bounds each attempt. Zero selects Config.DefaultTimeout.
	Timeout time.Duration

	// MaxRetries is the number of attempts after the first. Use DefaultRetries
	// for the manager default.
	MaxRetries int

	// Progress is read during salvage. Optional.
	Progress *Progress

	// Context is copied into every OperationError of this request.
	Context map[string]string

	// OnRestart reinitializes the failed resource before an attempt that
	// follows a RESTART action.
	OnRestart func(ctx context.Context) error
}

// Config holds recovery manager settings.
type Config struct {
	DefaultTimeout    time.Duration `yaml:"default_timeout"`
	DefaultMaxRetries int           `yaml:"default_max_retries"`
	BackoffUnit       time.Duration `yaml:"backoff_unit"`
	Grace             time.Duration `yaml:"grace"`
	WarnRatio         float64       `yaml:"warn_ratio"`
	HistorySize       int           `yaml:"history_size"`
	JournalTimeout    time.Duration `yaml:"journal_timeout"`
}

// DefaultConfig returns the settings used for zero fields. DefaultMaxRetries is
// the exception: zero means no retries, so configuration loaders start from
// DefaultConfig before decoding.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:    5 * time.Minute,
		DefaultMaxRetries: 3,
		BackoffUnit:       time.Second,
		Grace:             5 * time.Second,
		WarnRatio:         0.8,
		HistorySize:       1000,
		JournalTimeout:    5 * time.Second,
	}
}

// WithDefaults replaces non-positive fields with their defaults. A negative
// DefaultMaxRetries is replaced; zero is kept.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	if c.DefaultMaxRetries < 0 {
		c.DefaultMaxRetries = d.DefaultMaxRetries
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = d.BackoffUnit
	}
	if c.Grace <= 0 {
		c.Grace = d.Grace
	}
	if c.WarnRatio <= 0 || c.WarnRatio >= 1 {
		c.WarnRatio = d.WarnRatio
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.JournalTimeout <= 0 {
		c.JournalTimeout = d.JournalTimeout
	}
	return c
}

// Journal receives the records of every finished scope.
type Journal interface {
	RecordErrors(ctx context.Context, errs []domain.OperationError) error
	RecordPartial(ctx context.Context, p domain.PartialResult) error
}

// Manager runs operations under deadlines, retries them according to the
// strategy table and keeps a bounded history of failures and salvaged output.
type Manager struct {
	cfg     Config
	table   Table
	journal Journal
	log     *slog.Logger

	mu       sync.RWMutex
	errs     []domain.OperationError
	partials []domain.PartialResult

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a recovery manager. journal may be nil.
func NewManager(cfg Config, journal Journal, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:     cfg.WithDefaults(),
		table:   DefaultTable(),
		journal: journal,
		log:     log.With("component", "recovery"),
		sleep:   sleepContext,
	}
}

// Config returns the effective settings.
func (m *Manager) Config() Config { return m.cfg }

// ExecuteWithRecovery runs op in a fresh scope and closes it.
func (m *Manager) ExecuteWithRecovery(ctx context.Context, op Operation, req Request) (any, error) {
	s := m.Scope(req)
	defer func() {
		if err := s.Close(); err != nil {
			m.log.Warn("Failed to flush recovery journal", "operation", s.req.Name, "error", err)
		}
	}()
	return s.Execute(ctx, op)
}

// Execute is ExecuteWithRecovery for a typed operation.
func Execute[T any](ctx context.Context, m *Manager, req Request, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := m.ExecuteWithRecovery(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, req)
	if err != nil {
		var zero T
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}

// WithScope runs fn with a scope that is closed on every exit path. A panic in
// fn is re-raised after the scope has been flushed.
func (m *Manager) WithScope(ctx context.Context, req Request, fn func(ctx context.Context, s *Scope) error) error {
	s := m.Scope(req)
	defer func() {
		r := recover()
		if err := s.Close(); err != nil {
			m.log.Warn("Failed to flush recovery journal", "operation", s.req.Name, "error", err)
		}
		if r != nil {
			panic(r)
		}
	}()
	return fn(ctx, s)
}

func (m *Manager) normalize(req Request) Request {
	if req.Name == "" {
		req.Name = "operation"
	}
	if req.Component == "" {
		req.Component = req.Name
	}
	if req.Timeout <= 0 {
		req.Timeout = m.cfg.DefaultTimeout
	}
	if req.MaxRetries < 0 {
		req.MaxRetries = m.cfg.DefaultMaxRetries
	}
	req.Context = maps.Clone(req.Context)
	return req
}

// runAttempt runs op once under a deadline. An operation that ignores
// cancellation is abandoned after the grace period.
func (m *Manager) runAttempt(ctx context.Context, req Request, attempt int, op Operation) (any, error) {
	d := NewDeadline(req.Name, req.Timeout, m.cfg.WarnRatio, m.cfg.Grace)

	attemptCtx, cancel := context.WithTimeoutCause(ctx, d.Timeout, ErrDeadlineExceeded)
	defer cancel()

	warn := time.AfterFunc(d.WarnAfter, func() {
		m.log.Warn("Operation approaching deadline",
			"operation", req.Name,
			"attempt", attempt+1,
			"elapsed", d.WarnAfter,
			"timeout", d.Timeout,
		)
	})
	defer warn.Stop()

	defer func() {
		metrics.AttemptDuration.WithLabelValues(req.Component, req.Name).
			Observe(time.Since(d.StartedAt).Seconds())
	}()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		v, err := op(attemptCtx)
		done <- outcome{value: v, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-attemptCtx.Done():
		grace := time.NewTimer(d.Grace)
		defer grace.Stop()
		select {
		case out = <-done:
		case <-grace.C:
			m.log.Warn("Abandoning operation that ignored cancellation",
				"operation", req.Name,
				"attempt", attempt+1,
				"grace", d.Grace,
			)
			if err := ctx.Err(); err != nil {
				return nil, context.Cause(ctx)
			}
			return nil, Timeout(fmt.Errorf("%s after %s: %w", req.Name, d.Timeout, ErrDeadlineExceeded))
		}
	}

	if out.err == nil {
		return out.value, nil
	}
	if ctx.Err() == nil && errors.Is(context.Cause(attemptCtx), ErrDeadlineExceeded) {
		return nil, Timeout(fmt.Errorf("%s after %s: %w", req.Name, d.Timeout, out.err))
	}
	return nil, out.err
}

// restart runs the request's OnRestart hook under the same deadline and grace
// period as an attempt. A hook that outlives them fails as a timeout.
func (m *Manager) restart(ctx context.Context, req Request, attempt int) error {
	_, err := m.runAttempt(ctx, req, attempt, func(ctx context.Context) (any, error) {
		return nil, req.OnRestart(ctx)
	})
	return err
}

func (m *Manager) newRecord(req Request, attempt int, err error, category domain.ErrorCategory, strategy Strategy) domain.OperationError {
	return domain.OperationError{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Component: req.Component,
		Operation: req.Name,
		Attempt:   attempt + 1,
		Severity:  strategy.Severity,
		Category:  category,
		ErrorType: errorType(err),
		Message:   err.Error(),
		Context:   maps.Clone(req.Context),
		Action:    strategy.Action,
	}
}

func (m *Manager) appendError(rec domain.OperationError) {
	m.mu.Lock()
	m.errs = append(m.errs, rec)
	if over := len(m.errs) - m.cfg.HistorySize; over > 0 {
		m.errs = slices.Delete(m.errs, 0, over)
	}
	m.mu.Unlock()

	metrics.RecoveryErrors.WithLabelValues(
		rec.Component, string(rec.Category), rec.Severity.String(), rec.Action.String(),
	).Inc()
}

func (m *Manager) appendPartial(p domain.PartialResult) {
	m.mu.Lock()
	m.partials = append(m.partials, p)
	if over := len(m.partials) - m.cfg.HistorySize; over > 0 {
		m.partials = slices.Delete(m.partials, 0, over)
	}
	m.mu.Unlock()

	metrics.PartialResultsSalvaged.WithLabelValues(p.Component).Inc()
}

// Errors returns a copy of the error history, oldest first.
func (m *Manager) Errors() []domain.OperationError {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.errs)
}

// PartialResults returns a copy of the salvaged results, oldest first.
func (m *Manager) PartialResults() []domain.PartialResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.partials)
}

// ClearHistory drops all recorded errors and partial results.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = nil
	m.partials = nil
}

// Summary aggregates the error history.
type Summary struct {
	TotalErrors    int                     `json:"total_errors"`
	PartialResults int                     `json:"partial_results"`
	BySeverity     map[string]int          `json:"by_severity"`
	ByAction       map[string]int          `json:"by_action"`
	ByCategory     map[string]int          `json:"by_category"`
	ByComponent    map[string]int          `json:"by_component"`
	Recent         []domain.OperationError `json:"recent"`
}

const summaryRecent = 10

// Summary counts the history by severity, action, category and component.
func (m *Manager) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{
		TotalErrors:    len(m.errs),
		PartialResults: len(m.partials),
		BySeverity:     make(map[string]int),
		ByAction:       make(map[string]int),
		ByCategory:     make(map[string]int),
		ByComponent:    make(map[string]int),
	}
	for _, e := range m.errs {
		s.BySeverity[e.Severity.String()]++
		s.ByAction[e.Action.String()]++
		s.ByCategory[string(e.Category)]++
		s.ByComponent[e.Component]++
	}
	s.Recent = slices.Clone(m.errs[max(0, len(m.errs)-summaryRecent):])
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}

func spanAttrs(req Request) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("recovery.operation", req.Name),
		attribute.String("recovery.component", req.Component),
		attribute.Int("recovery.max_retries", req.MaxRetries),
		attribute.String("recovery.timeout", req.Timeout.String()),
	)
}

func traceAttrs(rec domain.OperationError) trace.SpanStartEventOption {
	return trace.WithAttributes(
		attribute.Int("recovery.attempt", rec.Attempt),
		attribute.String("recovery.category", string(rec.Category)),
		attribute.String("recovery.severity", rec.Severity.String()),
		attribute.String("recovery.action", rec.Action.String()),
	)
}
