package app

import (
	"fmt"

	"dicom-router/internal/common/logging"
	"dicom-router/internal/config"
	"dicom-router/internal/storage"
	"dicom-router/internal/storage/postgres"
	"dicom-router/internal/storage/sqlite"
)

// initializeAudit opens the dispatch audit log through the storage registry
func (app *App) initializeAudit() error {
	var storageConfig storage.StorageConfig

	switch app.Config.AuditDatabaseType {
	case config.AuditNone:
		app.Logger.Info("Audit log: Disabled")
		return nil
	case "postgres":
		app.Logger.Info("Audit log: PostgreSQL",
			logging.Field{Key: "host", Value: app.Config.PostgresHost},
			logging.Field{Key: "port", Value: app.Config.PostgresPort},
			logging.Field{Key: "database", Value: app.Config.PostgresDB},
		)
		storageConfig = &postgres.Config{
			Host:     app.Config.PostgresHost,
			Port:     app.Config.PostgresPort,
			Database: app.Config.PostgresDB,
			Username: app.Config.PostgresUser,
			Password: app.Config.PostgresPassword,
			SSLMode:  app.Config.PostgresSSLMode,
		}
	default:
		app.Logger.Info("Audit log: SQLite", logging.Field{Key: "path", Value: app.Config.DatabasePath})
		storageConfig = &sqlite.Config{DatabasePath: app.Config.DatabasePath}
	}

	audit, err := storage.Create(storageConfig.GetType(), storageConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize audit log: %w", err)
	}

	app.Audit = audit
	return nil
}
