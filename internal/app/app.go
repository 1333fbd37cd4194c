// -----------------------------------------------------------------------
// Package app wires config, storage, bus, scheduler and HTTP surface into
// one running application, the way the teacher's app.App does — just
// scoped to the reconciliation engine's components instead of the
// teacher's crawler/chat/job stack.
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/argyakrivos/magrathea/internal/bus"
	"github.com/argyakrivos/magrathea/internal/common"
	"github.com/argyakrivos/magrathea/internal/ingest"
	"github.com/argyakrivos/magrathea/internal/interfaces"
	"github.com/argyakrivos/magrathea/internal/storage"
	"github.com/argyakrivos/magrathea/internal/sweep"
)

// App holds every wired component the HTTP surface and background workers
// depend on.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	Queue          interfaces.QueueManager
	Ingestor       interfaces.Ingestor
	Listener       interfaces.Listener
	Scheduler      interfaces.SchedulerService
}

// New initializes every component in dependency order: storage, then the
// ingest pipeline that depends on it, then the bus and the listener that
// drives messages through the ingestor, then the repair scheduler.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	storageManager, err := storage.NewStorageManager(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("app: initialize storage: %w", err)
	}
	app.StorageManager = storageManager

	app.Ingestor = ingest.New(
		storageManager.History(),
		storageManager.Current(),
		storageManager.Index(),
		logger,
		cfg.HistoryKey.VolatileFields,
		cfg.Schema.Book,
		cfg.Schema.Contributor,
	)

	queueManager, err := bus.NewManager(logger, &cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("app: initialize bus: %w", err)
	}
	app.Queue = queueManager

	app.Listener = bus.NewListener(queueManager, app.Ingestor, logger, &cfg.Listener, &cfg.Bus)
	if err := app.Listener.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("app: start listener: %w", err)
	}

	app.Scheduler = sweep.New(storageManager.History(), storageManager.Current(), storageManager.Index(), logger, cfg.Index.ReindexChunk)
	if cfg.Sweep.Enabled {
		if err := app.Scheduler.Start(cfg.Sweep.Schedule); err != nil {
			return nil, fmt.Errorf("app: start repair scheduler: %w", err)
		}
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("book_schema", cfg.Schema.Book).
		Str("contributor_schema", cfg.Schema.Contributor).
		Bool("sweep_enabled", cfg.Sweep.Enabled).
		Bool("index_disabled", cfg.Index.Disabled).
		Msg("application initialization complete")

	return app, nil
}

// Shutdown stops the background workers and closes the storage handles.
func (a *App) Shutdown(ctx context.Context) error {
	if a.Scheduler != nil && a.Scheduler.IsRunning() {
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("app: repair scheduler stop failed")
		}
	}
	if a.Listener != nil {
		if err := a.Listener.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("app: listener stop failed")
		}
	}
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("app: queue close failed")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("app: close storage: %w", err)
		}
	}
	return nil
}
