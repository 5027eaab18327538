// Package postgres stores the dispatch audit log in PostgreSQL through pgx.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"dicom-router/internal/models"
	"dicom-router/internal/storage"
)

type Adapter struct {
	db     *sql.DB
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}

	db, err := sql.Open("pgx", config.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{
		db:     db,
		config: config,
	}

	if err := adapter.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health() error {
	return a.db.Ping()
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS dispatch_log (
			id BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL,
			study_id TEXT NOT NULL,
			destination TEXT NOT NULL,
			generation BIGINT NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 1,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_log_study ON dispatch_log(study_id)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_log_created ON dispatch_log(created_at)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}
	return nil
}

func (a *Adapter) RecordDispatch(ctx context.Context, record *models.DispatchRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	err := a.db.QueryRowContext(ctx,
		`INSERT INTO dispatch_log (event_id, study_id, destination, generation, success, error, attempts, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		record.EventID, record.StudyID, record.Destination, int64(record.Generation),
		record.Success, record.Error, record.Attempts, record.Duration.Milliseconds(), record.CreatedAt,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to insert dispatch record: %w", err)
	}
	return nil
}

func (a *Adapter) RecentDispatches(ctx context.Context, limit int) ([]*models.DispatchRecord, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, event_id, study_id, destination, generation, success, error, attempts, duration_ms, created_at
		 FROM dispatch_log ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatch log: %w", err)
	}
	defer rows.Close()

	var records []*models.DispatchRecord
	for rows.Next() {
		var (
			record     models.DispatchRecord
			generation int64
			durationMS int64
		)
		if err := rows.Scan(&record.ID, &record.EventID, &record.StudyID, &record.Destination,
			&generation, &record.Success, &record.Error, &record.Attempts, &durationMS, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dispatch record: %w", err)
		}
		record.Generation = uint64(generation)
		record.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, &record)
	}
	return records, rows.Err()
}

type Factory struct{}

func (f *Factory) Create(config storage.StorageConfig) (storage.DispatchLog, error) {
	pgConfig, ok := config.(*Config)
	if !ok {
		return nil, fmt.Errorf("invalid config type for PostgreSQL storage")
	}
	return NewAdapter(pgConfig)
}

func (f *Factory) GetType() string {
	return "postgres"
}

func init() {
	storage.Register("postgres", &Factory{})
}
