// Package storage defines the durable stores the router depends on: the rule set
// persister and the dispatch audit log, plus a registry of audit log backends.
//
// Backends register themselves from their init functions:
//
//	import _ "dicom-router/internal/storage/sqlite"
//
//	log, err := storage.Create("sqlite", &sqlite.Config{DatabasePath: "./dicom_router.db"})
package storage

import (
	"context"
	"errors"

	"dicom-router/internal/models"
)

// ErrNoRules is returned by a RulePersister when nothing was ever saved
var ErrNoRules = errors.New("no persisted rule set")

// RulePersister reads and writes the external form of the rule set
type RulePersister interface {
	// LoadRules returns the saved documents in their saved order, or ErrNoRules
	LoadRules(ctx context.Context) ([]models.RuleDocument, error)
	// SaveRules durably replaces the saved documents. A failed save leaves the previous copy readable.
	SaveRules(ctx context.Context, docs []models.RuleDocument) error
}

// DispatchLog is the audit trail of forward attempts
type DispatchLog interface {
	RecordDispatch(ctx context.Context, record *models.DispatchRecord) error
	// RecentDispatches returns the newest records first
	RecentDispatches(ctx context.Context, limit int) ([]*models.DispatchRecord, error)
	Health() error
	Close() error
}

type StorageConfig interface {
	Validate() error
	GetType() string
	GetConnectionString() string
}

type StorageFactory interface {
	Create(config StorageConfig) (DispatchLog, error)
	GetType() string
}
