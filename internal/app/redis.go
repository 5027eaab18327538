package app

import (
	"dicom-router/internal/common/logging"
	"dicom-router/internal/redis"
)

// initializeRedis connects when the rule store or event de-duplication needs it.
// A configured but unreachable Redis is fatal.
func (app *App) initializeRedis() error {
	if !app.Config.UsesRedis() {
		app.Logger.Info("Redis: Not configured (file rule store, event de-duplication disabled)")
		return nil
	}

	redisConfig := &redis.Config{
		Address:     app.Config.RedisAddress,
		Password:    app.Config.RedisPassword,
		DB:          app.Config.RedisDB,
		PoolSize:    app.Config.RedisPoolSize,
		RulesKey:    app.Config.RedisRulesKey,
		DedupWindow: app.Config.EventDedupWindow,
	}

	redisClient, err := redis.NewClient(redisConfig, app.Logger)
	if err != nil {
		return err
	}

	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected",
		logging.Field{Key: "address", Value: app.Config.RedisAddress},
		logging.Field{Key: "instance_id", Value: redisClient.InstanceID()},
	)
	return nil
}
