package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/analysis"
	"github.com/ternarybob/indago/internal/collectors"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/handlers"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/services/research"
	"github.com/ternarybob/indago/internal/services/scheduler"
	"github.com/ternarybob/indago/internal/storage/badger"
	"github.com/ternarybob/indago/internal/supervisor"
)

// App wires configuration, storage, services, and handlers together
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Storage    interfaces.StorageManager
	Collectors *collectors.Registry
	Supervisor *supervisor.Supervisor
	Research   *research.Service
	Scheduler  *scheduler.Service

	ConfigHandler   *handlers.ConfigHandler
	ResearchHandler *handlers.ResearchHandler
	StatusHandler   *handlers.StatusHandler
}

// New creates and wires the application
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	storage, err := badger.NewManager(logger, &config.Storage.Badger, &config.Supervisor)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	registry := collectors.NewRegistry(config, logger)

	provider, err := analysis.NewClaudeProvider(&config.Claude, logger)
	if err != nil {
		storage.Close()
		return nil, err
	}
	worker := analysis.NewWorker(provider, storage.DatasetStorage(), storage.SessionStorage(), config, logger)

	sup := supervisor.NewSupervisor(storage, registry, worker, config, logger)
	researchService := research.NewService(storage, sup, config, logger)
	schedulerService := scheduler.NewService(researchService, storage, logger)

	app := &App{
		Config:     config,
		Logger:     logger,
		Storage:    storage,
		Collectors: registry,
		Supervisor: sup,
		Research:   researchService,
		Scheduler:  schedulerService,
	}

	app.ConfigHandler = handlers.NewConfigHandler(researchService, schedulerService, logger)
	app.ResearchHandler = handlers.NewResearchHandler(researchService, logger)
	app.StatusHandler = handlers.NewStatusHandler(researchService, sup, logger)

	if config.Scheduler.Enabled {
		if err := schedulerService.Start(context.Background()); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		logger.Info().Msg("Scheduler disabled by configuration")
	}

	logger.Info().
		Str("environment", config.Environment).
		Str("data_path", config.Storage.Badger.Path).
		Msg("Application initialized")

	return app, nil
}

// Close shuts down services and storage in dependency order
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}

	if a.Supervisor != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Supervisor.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("Supervisor shutdown incomplete")
		}
	}

	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
