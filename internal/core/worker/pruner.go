package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/binlens/internal/infra/storage"
	"github.com/vietddude/binlens/internal/resilience/metrics"
)

// Pruner deletes journal entries older than the retention period.
type Pruner struct {
	journal   storage.FailureJournal
	retention time.Duration
	interval  time.Duration
	backend   string
	log       *slog.Logger
	now       func() time.Time
}

// NewPruner creates a new Pruner worker. A zero interval derives one from
// the retention period.
func NewPruner(
	journal storage.FailureJournal,
	backend string,
	retention time.Duration,
	interval time.Duration,
	log *slog.Logger,
) *Pruner {
	if interval <= 0 {
		// 10% of retention, between one minute and one hour
		interval = min(retention/10, time.Hour)
		interval = max(interval, time.Minute)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pruner{
		journal:   journal,
		retention: retention,
		interval:  interval,
		backend:   backend,
		log:       log.With("component", "journal_pruner"),
		now:       time.Now,
	}
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs one retention pass and returns how many entries were removed.
func (p *Pruner) Prune(ctx context.Context) int64 {
	cutoff := p.now().Add(-p.retention)

	n, err := p.journal.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		p.log.Error("Failed to prune journal", "backend", p.backend, "error", err)
		return n
	}
	if n > 0 {
		metrics.JournalPruned.WithLabelValues(p.backend).Add(float64(n))
		p.log.Info("Pruned journal", "backend", p.backend, "removed", n, "cutoff", cutoff)
	}
	return n
}
