package app

import (
	"context"
	"fmt"

	"dicom-router/internal/circuitbreaker"
	"dicom-router/internal/common/logging"
	"dicom-router/internal/config"
	"dicom-router/internal/middleware"
	"dicom-router/internal/orthanc"
	"dicom-router/internal/purge"
	"dicom-router/internal/redis"
	"dicom-router/internal/routing"
	"dicom-router/internal/storage"
	"dicom-router/internal/storage/file"
	"dicom-router/internal/triggers"
)

// App holds all the application dependencies
type App struct {
	Config         *config.Config
	Orthanc        *orthanc.Client
	RedisClient    *redis.Client
	Audit          storage.DispatchLog
	Breakers       *circuitbreaker.Manager
	Engine         *routing.Engine
	Purge          *purge.Service
	TriggerManager *triggers.Manager
	Auth           *middleware.JWTAuth
	RateLimiter    *middleware.RateLimiter
	Logger         logging.Logger

	stopRulesListener func()
}

// New creates a new application instance with all dependencies. Nothing is
// started; call Start once the HTTP server is up.
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	// Initialize components in order of dependency
	if err := app.initializeOrthanc(); err != nil {
		return nil, err
	}

	if err := app.initializeRedis(); err != nil {
		return nil, err
	}

	if err := app.initializeAudit(); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.initializeRouting()
	app.Purge = purge.NewService(app.Orthanc, app.Logger)

	if err := app.initializeAuth(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeRateLimit(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeTriggers(); err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

func (app *App) initializeOrthanc() error {
	orthancConfig := orthanc.Config{
		URL:             app.Config.OrthancURL,
		Username:        app.Config.OrthancUsername,
		Password:        app.Config.OrthancPassword,
		RequestedTags:   app.Config.RequestedTags,
		DestinationKind: app.Config.DestinationKind,
		Timeout:         app.Config.OrthancTimeout,
	}

	client, err := orthanc.NewClient(orthancConfig, app.Logger)
	if err != nil {
		return fmt.Errorf("failed to create archive client: %w", err)
	}

	app.Orthanc = client
	app.Logger.Info("Archive: Configured",
		logging.Field{Key: "url", Value: app.Config.OrthancURL},
		logging.Field{Key: "destination_kind", Value: app.Config.DestinationKind},
	)
	return nil
}

// initializeRouting builds the rule store, dispatcher and engine
func (app *App) initializeRouting() {
	var persister storage.RulePersister
	if app.Config.RulesStore == config.RulesStoreRedis {
		persister = app.RedisClient
		app.Logger.Info("Rules: Redis", logging.Field{Key: "key", Value: app.Config.RedisRulesKey})
	} else {
		persister = file.NewRuleFile(app.Config.RulesFilePath)
		app.Logger.Info("Rules: File", logging.Field{Key: "path", Value: app.Config.RulesFilePath})
	}

	store := routing.NewRuleStore(persister, app.Logger)
	if app.Config.RulesStore == config.RulesStoreRedis {
		store.SetNotifier(app.RedisClient)
	}

	dispatcherConfig := routing.DefaultDispatcherConfig()
	dispatcherConfig.Options = routing.ForwardOptions{
		Compress:          app.Config.ForwardCompress,
		Permissive:        app.Config.ForwardPermissive,
		Priority:          app.Config.ForwardPriority,
		Synchronous:       app.Config.ForwardSynchronous,
		Asynchronous:      app.Config.ForwardAsynchronous,
		MoveOriginatorAet: app.Config.MoveOriginatorAET,
		MoveOriginatorID:  app.Config.MoveOriginatorID,
		StorageCommitment: app.Config.ForwardStorageCommitment,
	}
	dispatcherConfig.Timeout = app.Config.ForwardTimeout
	dispatcherConfig.Concurrency = app.Config.ForwardConcurrency
	dispatcherConfig.Retry.MaxAttempts = app.Config.ForwardRetryAttempts

	var dispatcherOpts []routing.DispatcherOption
	if app.Config.CircuitBreakerEnabled {
		breakerConfig := circuitbreaker.DefaultConfig()
		breakerConfig.MaxFailures = app.Config.CircuitBreakerMaxFailures
		breakerConfig.Timeout = app.Config.CircuitBreakerTimeout
		app.Breakers = circuitbreaker.NewManager(breakerConfig, app.Logger)
		dispatcherOpts = append(dispatcherOpts, routing.WithBreakers(app.Breakers))
	}
	if app.Audit != nil {
		dispatcherOpts = append(dispatcherOpts, routing.WithAuditLog(app.Audit))
	}
	dispatcher := routing.NewDispatcher(app.Orthanc, dispatcherConfig, app.Logger, dispatcherOpts...)

	engineOpts := []routing.EngineOption{routing.WithReadOnly(app.Config.RulesReadOnly)}
	if app.Config.ForwardAllDestinations {
		engineOpts = append(engineOpts, routing.WithForwardAll(app.Config.ForwardDestinations, app.Orthanc))
		app.Logger.Info("Forward to all destinations: Enabled",
			logging.Field{Key: "destinations", Value: app.Config.ForwardDestinations},
		)
	}
	if app.RedisClient != nil && app.Config.EventDedupWindow > 0 {
		engineOpts = append(engineOpts, routing.WithEventClaimer(app.RedisClient))
		app.Logger.Info("Event de-duplication: Enabled",
			logging.Field{Key: "window", Value: app.Config.EventDedupWindow.String()},
		)
	}

	app.Engine = routing.NewEngine(store, app.Orthanc, dispatcher, app.Logger, engineOpts...)
}

// Start loads the persisted rules, then starts the rule change listener and
// the event sources. A rule load failure leaves the router running with an
// empty rule set; a failed destination listing is retried per event.
func (app *App) Start(ctx context.Context) error {
	if err := app.Engine.OnServerStarted(ctx); err != nil {
		app.Logger.Warn("Routing engine started degraded",
			logging.Field{Key: "error", Value: err.Error()},
		)
	}

	if app.RedisClient != nil && app.Config.RulesStore == config.RulesStoreRedis {
		stop, err := app.RedisClient.ListenRulesChanged(ctx, func(ctx context.Context) error {
			_, err := app.Engine.Store().Reload(ctx)
			return err
		})
		if err != nil {
			return err
		}
		app.stopRulesListener = stop
	}

	if err := app.TriggerManager.Start(ctx); err != nil {
		return err
	}
	app.Logger.Info("Trigger manager started")
	return nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.TriggerManager != nil {
		if err := app.TriggerManager.Stop(); err != nil {
			app.Logger.Warn("Error stopping triggers", logging.Field{Key: "error", Value: err.Error()})
		}
	}
	if app.stopRulesListener != nil {
		app.stopRulesListener()
		app.stopRulesListener = nil
	}
	if app.Audit != nil {
		app.Audit.Close()
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
}
