package routing

import (
	"context"

	"dicom-router/internal/models"
)

// Forwarder performs the actual transfer of a study to one destination.
// The destination identifier is opaque and passed through unchanged.
type Forwarder interface {
	Forward(ctx context.Context, destination string, request models.StoreRequest) error
}

// MetadataSource returns the tag groups of a study
type MetadataSource interface {
	FetchStudy(ctx context.Context, studyID string) (*models.StudyMetadata, error)
}

// DestinationLister returns every destination the archive knows
type DestinationLister interface {
	ListDestinations(ctx context.Context) ([]string, error)
}

// ChangeNotifier announces a newly installed rule set to other router instances
type ChangeNotifier interface {
	PublishRulesChanged(ctx context.Context, generation uint64) error
}

// EventClaimer lets exactly one router instance handle a given stable study.
// ClaimEvent returns false when the study was already claimed.
type EventClaimer interface {
	ClaimEvent(ctx context.Context, studyID string) (bool, error)
}
