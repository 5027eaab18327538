package app

import (
	"context"
	"time"

	"dicom-router/internal/common/logging"
	"dicom-router/internal/triggers"
	"dicom-router/internal/triggers/broker"
	"dicom-router/internal/triggers/polling"
	"dicom-router/internal/triggers/schedule"
)

// initializeTriggers registers the enabled event sources. They are started by Start.
func (app *App) initializeTriggers() error {
	app.TriggerManager = triggers.NewManager(app.Logger)

	onStable := func(ctx context.Context, studyID string) error {
		_, err := app.Engine.OnStudyStable(ctx, studyID)
		return err
	}

	if app.Config.ChangesPollEnabled {
		pollConfig := polling.DefaultConfig()
		pollConfig.Interval = app.Config.ChangesPollInterval

		poller, err := polling.NewTrigger(pollConfig, app.Orthanc, onStable, app.Logger)
		if err != nil {
			return err
		}
		app.TriggerManager.Add(poller)
		app.Logger.Info("Change feed poller: Enabled",
			logging.Field{Key: "interval", Value: pollConfig.Interval.String()},
		)
	}

	if app.Config.RabbitMQURL != "" {
		brokerConfig := broker.DefaultConfig()
		brokerConfig.URL = app.Config.RabbitMQURL
		brokerConfig.Queue = app.Config.StableStudyQueue

		consumer, err := broker.NewTrigger(brokerConfig, onStable, app.Logger)
		if err != nil {
			return err
		}
		app.TriggerManager.Add(consumer)
		app.Logger.Info("AMQP ingress: Enabled", logging.Field{Key: "queue", Value: brokerConfig.Queue})
	}

	if app.Config.PurgeSchedule != "" {
		retentionDays := app.Config.PurgeRetentionDays
		purgeTrigger, err := schedule.NewTrigger(
			schedule.NewConfig("purge-old-studies", app.Config.PurgeSchedule),
			func(ctx context.Context) error {
				return app.purgeOnce(ctx, retentionDays)
			},
			app.Logger,
		)
		if err != nil {
			return err
		}

		// With several instances sharing Redis only one purges per occurrence
		if app.RedisClient != nil {
			purgeTrigger.SetGuard(func(ctx context.Context, key string) (bool, error) {
				return app.RedisClient.Claim(ctx, key, time.Hour)
			})
		}
		app.TriggerManager.Add(purgeTrigger)
		app.Logger.Info("Scheduled purge: Enabled",
			logging.Field{Key: "schedule", Value: app.Config.PurgeSchedule},
			logging.Field{Key: "retention_days", Value: retentionDays},
		)
	}

	return nil
}

// purgeOnce runs the retention purge. With Redis a purge still running on another
// instance turns this run into a no-op.
func (app *App) purgeOnce(ctx context.Context, retentionDays int) error {
	if app.RedisClient != nil {
		unlock, err := app.RedisClient.TryLock(ctx, "purge-old-studies", 6*time.Hour)
		if err != nil {
			app.Logger.Info("Purge lock not taken, skipping this run",
				logging.Field{Key: "error", Value: err.Error()},
			)
			return nil
		}
		defer func() {
			if err := unlock(); err != nil {
				app.Logger.Warn("Failed to release purge lock", logging.Field{Key: "error", Value: err.Error()})
			}
		}()
	}

	_, err := app.Purge.PurgeOlderThan(ctx, retentionDays)
	return err
}
