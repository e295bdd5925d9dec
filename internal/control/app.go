package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vietddude/binlens/internal/core/config"
	"github.com/vietddude/binlens/internal/core/worker"
	"github.com/vietddude/binlens/internal/infra/provider"
	"github.com/vietddude/binlens/internal/infra/routing"
	"github.com/vietddude/binlens/internal/infra/storage"
	"github.com/vietddude/binlens/internal/infra/storage/postgres"
	"github.com/vietddude/binlens/internal/resilience/health"
	"github.com/vietddude/binlens/internal/resilience/recovery"
)

// App owns the recovery manager, the provider factory and their supporting
// workers.
type App struct {
	cfg          config.AppConfig
	manager      *recovery.Manager
	factory      *routing.Factory
	journal      *storage.Instrumented
	pruner       *worker.Pruner
	healthMon    *health.Monitor
	healthServer *health.Server
	db           *postgres.DB
	log          *slog.Logger
}

// Option customizes NewApp.
type Option func(*options)

type options struct {
	construct provider.Constructor
	journal   storage.FailureJournal
}

// WithConstructor replaces the backend constructor, for tests.
func WithConstructor(c provider.Constructor) Option {
	return func(o *options) { o.construct = c }
}

// WithJournal uses j instead of opening the configured backend.
func WithJournal(j storage.FailureJournal) Option {
	return func(o *options) { o.journal = j }
}

// NewApp creates a new App with all dependencies initialized.
func NewApp(ctx context.Context, cfg config.AppConfig, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := slog.Default()

	// 1. Failure journal
	var (
		journal *storage.Instrumented
		db      *postgres.DB
		err     error
	)
	if o.journal != nil {
		journal = storage.Instrument(o.journal, cfg.Journal.Backend)
	} else {
		journal, db, err = OpenJournal(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	// 2. Provider factory
	factory := routing.NewFactory(cfg.Factory, o.construct, log)
	for _, p := range cfg.Providers {
		if err := factory.AddProvider(p); err != nil {
			_ = journal.Close()
			return nil, fmt.Errorf("failed to add provider: %w", err)
		}
	}

	// 3. Recovery manager
	manager := recovery.NewManager(cfg.Recovery, journal, log)

	// 4. Workers
	pruner := worker.NewPruner(journal, journal.Backend(), cfg.Journal.Retention, cfg.Journal.PruneInterval, log)
	healthMon := health.NewMonitor(factory, manager, cfg.Factory.HealthInterval, log)
	healthServer := health.NewServer(healthMon, cfg.Server.Port)

	return &App{
		cfg:          cfg,
		manager:      manager,
		factory:      factory,
		journal:      journal,
		pruner:       pruner,
		healthMon:    healthMon,
		healthServer: healthServer,
		db:           db,
		log:          log,
	}, nil
}

func (a *App) Manager() *recovery.Manager      { return a.manager }
func (a *App) Factory() *routing.Factory       { return a.factory }
func (a *App) Journal() storage.FailureJournal { return a.journal }
func (a *App) HealthMonitor() *health.Monitor  { return a.healthMon }
func (a *App) HealthServer() *health.Server    { return a.healthServer }

// Start starts the background components. It does not block.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	go a.healthMon.Start(ctx)
	go a.pruner.Start(ctx)

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	a.log.Info("Started",
		"providers", len(a.cfg.Providers),
		"journal", a.journal.Backend(),
		"port", a.cfg.Server.Port,
	)
	return nil
}

// Stop tears down backends, stops the health server and closes the journal.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping...")

	var errs []error
	if err := a.factory.Cleanup(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.healthServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop health server: %w", err))
	}
	if err := a.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close journal: %w", err))
	}
	return errors.Join(errs...)
}
