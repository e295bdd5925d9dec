package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vietddude/binlens/internal/core/domain"
	"github.com/vietddude/binlens/internal/infra/storage"
)

// Journal is an in-process FailureJournal.
type Journal struct {
	mu       sync.RWMutex
	errs     []domain.OperationError
	seen     map[string]struct{}
	partials []domain.PartialResult
	closed   bool
}

var _ storage.FailureJournal = (*Journal)(nil)

func NewJournal() *Journal {
	return &Journal{seen: make(map[string]struct{})}
}

func (j *Journal) RecordErrors(ctx context.Context, errs []domain.OperationError) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return storage.ErrJournalClosed
	}
	for _, e := range errs {
		if e.ID != "" {
			if _, ok := j.seen[e.ID]; ok {
				continue
			}
			j.seen[e.ID] = struct{}{}
		}
		j.errs = append(j.errs, e)
	}
	return nil
}

func (j *Journal) RecordPartial(ctx context.Context, p domain.PartialResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return storage.ErrJournalClosed
	}
	j.partials = append(j.partials, p)
	return nil
}

func (j *Journal) RecentErrors(ctx context.Context, limit int) ([]domain.OperationError, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return newestFirst(j.errs, limit), nil
}

func (j *Journal) RecentPartials(ctx context.Context, limit int) ([]domain.PartialResult, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return newestFirst(j.partials, limit), nil
}

func (j *Journal) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	before := len(j.errs) + len(j.partials)
	j.errs = slices.DeleteFunc(j.errs, func(e domain.OperationError) bool {
		if e.Timestamp.Before(cutoff) {
			delete(j.seen, e.ID)
			return true
		}
		return false
	})
	j.partials = slices.DeleteFunc(j.partials, func(p domain.PartialResult) bool {
		return p.Timestamp.Before(cutoff)
	})
	return int64(before - len(j.errs) - len(j.partials)), nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}

// newestFirst returns the last limit items of s in reverse order. A
// non-positive limit returns all of them.
func newestFirst[T any](s []T, limit int) []T {
	if limit <= 0 || limit > len(s) {
		limit = len(s)
	}
	out := slices.Clone(s[len(s)-limit:])
	slices.Reverse(out)
	return out
}
