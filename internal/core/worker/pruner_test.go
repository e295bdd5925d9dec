package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietddude/binlens/internal/core/domain"
	"github.com/vietddude/binlens/internal/infra/storage"
	"github.com/vietddude/binlens/internal/infra/storage/memory"
)

type failingJournal struct {
	storage.FailureJournal
}

func (failingJournal) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestNewPruner_Interval(t *testing.T) {
	assert.Equal(t, time.Hour, NewPruner(nil, "memory", 30*24*time.Hour, 0, nil).interval)
	assert.Equal(t, time.Minute, NewPruner(nil, "memory", 5*time.Minute, 0, nil).interval)
	assert.Equal(t, 6*time.Minute, NewPruner(nil, "memory", time.Hour, 0, nil).interval)
	assert.Equal(t, 2*time.Second, NewPruner(nil, "memory", time.Hour, 2*time.Second, nil).interval)
}

func TestPruner_Prune(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	j := memory.NewJournal()
	require.NoError(t, j.RecordErrors(ctx, []domain.OperationError{
		{ID: "old", Timestamp: now.Add(-8 * 24 * time.Hour)},
		{ID: "recent", Timestamp: now.Add(-time.Hour)},
	}))

	p := NewPruner(j, "memory", 7*24*time.Hour, 0, nil)
	p.now = func() time.Time { return now }

	assert.Equal(t, int64(1), p.Prune(ctx))
	assert.Zero(t, p.Prune(ctx))

	left, err := j.RecentErrors(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "recent", left[0].ID)
}

func TestPruner_PruneError(t *testing.T) {
	p := NewPruner(failingJournal{}, "postgres", time.Hour, 0, nil)
	assert.Zero(t, p.Prune(context.Background()))
}

func TestPruner_StartDisabled(t *testing.T) {
	p := NewPruner(memory.NewJournal(), "memory", 0, 0, nil)

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return with retention disabled")
	}
}

func TestPruner_StartStopsOnCancel(t *testing.T) {
	p := NewPruner(memory.NewJournal(), "memory", time.Hour, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
