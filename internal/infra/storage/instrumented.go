package storage

import (
	"context"

	"github.com/vietddude/binlens/internal/core/domain"
	"github.com/vietddude/binlens/internal/resilience/metrics"
)

// Instrumented counts the writes of a FailureJournal by result.
type Instrumented struct {
	FailureJournal
	backend string
}

// Instrument wraps j so every write is counted under backend.
func Instrument(j FailureJournal, backend string) *Instrumented {
	return &Instrumented{FailureJournal: j, backend: backend}
}

// Backend returns the backend name used as metric label.
func (i *Instrumented) Backend() string { return i.backend }

func (i *Instrumented) RecordErrors(ctx context.Context, errs []domain.OperationError) error {
	err := i.FailureJournal.RecordErrors(ctx, errs)
	i.observe(err)
	return err
}

func (i *Instrumented) RecordPartial(ctx context.Context, p domain.PartialResult) error {
	err := i.FailureJournal.RecordPartial(ctx, p)
	i.observe(err)
	return err
}

func (i *Instrumented) observe(err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.JournalWrites.WithLabelValues(i.backend, status).Inc()
}
