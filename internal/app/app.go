// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/autoharvest/ria-scraper/internal/config"
	"github.com/autoharvest/ria-scraper/internal/ops"
	"github.com/autoharvest/ria-scraper/internal/schedule"
	"github.com/autoharvest/ria-scraper/internal/scraper"
	"github.com/autoharvest/ria-scraper/internal/storage/memory"
	"github.com/autoharvest/ria-scraper/internal/storage/postgres"
)

// Store is the full persistence surface the app wires: the pipeline's record
// store plus the ops statistics query and teardown.
type Store interface {
	scraper.RecordStore
	Stats(ctx context.Context) (scraper.StoreStats, error)
	Close()
}

// App holds all the shared, long-lived services for the harvester.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	store        Store
	orchestrator *scraper.Orchestrator
	scheduler    *schedule.Scheduler
	opsServer    *http.Server
}

// New builds the service graph from configuration. It fails fast if any
// critical collaborator cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	store, err := newStore(ctx, cfg.DB, logger)
	if err != nil {
		return nil, err
	}

	fetcher, err := scraper.NewFetcher(scraper.FetcherConfig{
		UserAgent:     cfg.Scraper.UserAgent,
		MaxConcurrent: cfg.Scraper.MaxConcurrent,
		Delay:         cfg.Scraper.Delay,
		Timeout:       cfg.Scraper.FetchTimeout,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init fetcher: %w", err)
	}

	index, err := scraper.NewListingIndexReader(fetcher, cfg.Scraper.BaseURL, cfg.Scraper.SearchURL, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init index reader: %w", err)
	}

	orchestrator := scraper.NewOrchestrator(
		index,
		scraper.NewDetailExtractor(),
		scraper.NewContactResolver(fetcher, cfg.Scraper.BaseURL, logger),
		fetcher,
		store,
		scraper.OrchestratorConfig{
			MaxPages:     cfg.Scraper.MaxPages,
			DrainTimeout: cfg.Scraper.DrainTimeout,
		},
		logger,
	)

	a := &App{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		orchestrator: orchestrator,
		opsServer:    ops.NewServer(cfg.Ops.Port, store, logger),
	}

	if cfg.Schedule.Enabled {
		scheduler, err := schedule.New(schedule.Config{
			RunAt:    cfg.Schedule.RunAt,
			Timezone: cfg.Schedule.Timezone,
		}, orchestrator, logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("init scheduler: %w", err)
		}
		a.scheduler = scheduler
	}

	return a, nil
}

func newStore(ctx context.Context, cfg config.DBConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "postgres":
		logger.Info("connecting to postgres")
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		if err := store.Bootstrap(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case "memory":
		logger.Info("using in-memory record store; records are discarded on exit")
		return memory.NewRecordStore(), nil
	default:
		return nil, fmt.Errorf("unknown db.provider %q", cfg.Provider)
	}
}

// Run starts the ops server, performs an initial scrape, hands control to the
// scheduler, and blocks until ctx is canceled. Shutdown drains in-flight work.
func (a *App) Run(ctx context.Context) error {
	go func() {
		a.logger.Info("ops server listening", zap.String("addr", a.opsServer.Addr))
		if err := a.opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("ops server failed", zap.Error(err))
		}
	}()

	// Initial run at startup; subsequent runs come from the scheduler.
	summary := a.orchestrator.RunOnce(ctx)
	a.logger.Info("initial run completed",
		zap.String("run_id", summary.RunID),
		zap.Int("records_saved", summary.RecordsSaved),
	)

	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	<-ctx.Done()
	a.logger.Info("shutting down")

	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.opsServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("ops server shutdown", zap.Error(err))
	}
	a.store.Close()
	return nil
}

// Orchestrator exposes the pipeline for one-shot invocations.
func (a *App) Orchestrator() *scraper.Orchestrator {
	return a.orchestrator
}

// Close releases the store. Run performs its own teardown; Close is for
// one-shot invocations that bypass Run.
func (a *App) Close() {
	a.store.Close()
}
