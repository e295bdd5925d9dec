package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/binlens/internal/core/config"
	redisclient "github.com/vietddude/binlens/internal/infra/redis"
	"github.com/vietddude/binlens/internal/infra/storage"
	"github.com/vietddude/binlens/internal/infra/storage/memory"
	"github.com/vietddude/binlens/internal/infra/storage/postgres"
)

// OpenJournal connects the failure journal selected by cfg.Journal.Backend.
// The returned *postgres.DB is non-nil only for the postgres backend.
func OpenJournal(ctx context.Context, cfg config.AppConfig) (*storage.Instrumented, *postgres.DB, error) {
	switch cfg.Journal.Backend {
	case storage.BackendMemory, "":
		slog.Info("Using memory failure journal")
		return storage.Instrument(memory.NewJournal(), storage.BackendMemory), nil, nil

	case storage.BackendPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init db: %w", err)
		}
		slog.Info("Using PostgreSQL failure journal")
		return storage.Instrument(postgres.NewJournalRepo(db), storage.BackendPostgres), db, nil

	case storage.BackendRedis:
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using Redis failure journal")
		return storage.Instrument(redisclient.NewJournal(client), storage.BackendRedis), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown journal backend %q", cfg.Journal.Backend)
}
