// -----------------------------------------------------------------------
// App - Dependency wiring and lifecycle
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/access"
	"github.com/ternarybob/onero/internal/classes"
	"github.com/ternarybob/onero/internal/common"
	"github.com/ternarybob/onero/internal/handlers"
	"github.com/ternarybob/onero/internal/interfaces"
	"github.com/ternarybob/onero/internal/optimizer"
	"github.com/ternarybob/onero/internal/registry"
	"github.com/ternarybob/onero/internal/scheduler"
	storage "github.com/ternarybob/onero/internal/storage/badger"
	"github.com/ternarybob/onero/internal/transport"

	"github.com/ternarybob/onero/internal/services/events"
)

// App holds all application components and dependencies.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	EventService   interfaces.EventService
	Registry       *registry.Registry
	Managers       *registry.ManagerController
	IDAllocator    *scheduler.IDAllocator
	Scheduler      *scheduler.Scheduler
	Watchdog       *scheduler.Watchdog
	Algorithms     *optimizer.AlgorithmRegistry
	Optimizer      *optimizer.Controller
	ClassRegistry  *classes.Registry
	AccessPoints   *access.AccessPoints
	Hub            *transport.Hub

	// HTTP handlers
	JobHandler        *handlers.JobHandler
	OptimizingHandler *handlers.OptimizingHandler
	ClientHandler     *handlers.ClientHandler
	FolderHandler     *handlers.FolderHandler
	ClassHandler      *handlers.ClassHandler
	StatusHandler     *handlers.StatusHandler
}

// New initializes the application with all dependencies and starts the
// background loops. Call Close to shut everything down in order.
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	storageManager, err := storage.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.StorageManager = storageManager
	logger.Debug().
		Str("storage", "badger").
		Str("path", cfg.Storage.Badger.Path).
		Msg("Storage layer initialized")

	app.EventService = events.NewService(logger)
	app.Registry = registry.NewRegistry(logger, app.EventService)
	app.Managers = registry.NewManagerController(app.Registry, logger, cfg.Scheduler.ManagerStartsPerSecond)

	app.ClassRegistry, err = classes.NewRegistry(&cfg.Classes, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to load job classes: %w", err)
	}

	app.IDAllocator, err = scheduler.NewIDAllocator(ctx, storageManager.KV())
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize id allocator: %w", err)
	}

	app.Scheduler = scheduler.NewScheduler(
		cfg,
		logger,
		storageManager,
		app.Registry,
		app.EventService,
		app.ClassRegistry,
		app.IDAllocator,
	)
	if err := app.Scheduler.Start(ctx); err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	app.Watchdog, err = scheduler.NewWatchdog(app.Scheduler, cfg, logger)
	if err != nil {
		app.Scheduler.Stop(ctx)
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize watchdog: %w", err)
	}
	app.Watchdog.Start()

	app.Algorithms = optimizer.NewAlgorithmRegistry()
	app.Optimizer = optimizer.NewController(
		cfg,
		logger,
		app.Scheduler,
		storageManager,
		app.Algorithms,
		app.ClassRegistry,
		app.EventService,
		app.IDAllocator,
	)
	if err := app.Optimizer.Recover(ctx); err != nil {
		app.Watchdog.Stop()
		app.Scheduler.Stop(ctx)
		storageManager.Close()
		return nil, fmt.Errorf("failed to recover optimizing jobs: %w", err)
	}

	app.AccessPoints = access.New(
		logger,
		app.Scheduler,
		app.Optimizer,
		app.Registry,
		app.Managers,
		storageManager,
		app.ClassRegistry,
		app.Algorithms,
	)

	app.Hub = transport.NewHub(logger, &cfg.WebSocket, app.Registry, app.Scheduler)

	app.JobHandler = handlers.NewJobHandler(app.AccessPoints, logger)
	app.OptimizingHandler = handlers.NewOptimizingHandler(app.AccessPoints, &cfg.Scheduler, logger)
	app.ClientHandler = handlers.NewClientHandler(app.AccessPoints, logger)
	app.FolderHandler = handlers.NewFolderHandler(app.AccessPoints, logger)
	app.ClassHandler = handlers.NewClassHandler(app.AccessPoints, logger)
	app.StatusHandler = handlers.NewStatusHandler(app.AccessPoints, logger)

	logger.Info().
		Int("job_classes", len(app.ClassRegistry.List())).
		Str("tick", cfg.Scheduler.TickInterval).
		Msg("Application initialization complete")

	return app, nil
}

// Close shuts down background loops and releases resources. The watchdog stops
// first so it cannot finalize jobs the scheduler is draining; storage closes
// last so every component can flush its final state.
func (a *App) Close(ctx context.Context) error {
	if a.Watchdog != nil {
		a.Watchdog.Stop()
	}

	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Scheduler did not stop cleanly")
		}
	}

	// optimizing job loops observe their cancelled children and drain
	if a.Optimizer != nil {
		a.Optimizer.Wait()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
