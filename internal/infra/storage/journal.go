package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/binlens/internal/core/domain"
)

// ErrJournalClosed is returned by a journal used after Close.
var ErrJournalClosed = errors.New("journal closed")

// Backend names accepted in configuration.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// FailureJournal persists the error records and partial results produced by
// the recovery manager, for operators.
type FailureJournal interface {
	// RecordErrors appends error records. Records already stored are ignored.
	RecordErrors(ctx context.Context, errs []domain.OperationError) error

	// RecordPartial appends one salvaged partial result.
	RecordPartial(ctx context.Context, p domain.PartialResult) error

	// RecentErrors returns up to limit records, newest first.
	RecentErrors(ctx context.Context, limit int) ([]domain.OperationError, error)

	// RecentPartials returns up to limit partial results, newest first.
	RecentPartials(ctx context.Context, limit int) ([]domain.PartialResult, error)

	// DeleteOlderThan removes everything recorded before cutoff and returns
	// how many entries were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases the underlying connection.
	Close() error
}
