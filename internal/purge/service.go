// Package purge deletes studies whose StudyDate is on or before a cutoff date.
package purge

import (
	"context"
	"fmt"
	"time"

	"dicom-router/internal/common/errors"
	"dicom-router/internal/common/logging"
	"dicom-router/internal/common/validation"
)

// DateLayout is the DICOM DA format
const DateLayout = "20060102"

// Archive finds and deletes studies
type Archive interface {
	FindStudiesBefore(ctx context.Context, date string) ([]string, error)
	BulkDelete(ctx context.Context, resources []string) error
}

type Service struct {
	archive Archive
	logger  logging.Logger
	now     func() time.Time
}

func NewService(archive Archive, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Service{
		archive: archive,
		logger:  logger.WithFields(logging.Field{Key: "component", Value: "purge"}),
		now:     time.Now,
	}
}

// ValidateDate checks that since is an eight digit DICOM date
func ValidateDate(since string) error {
	if err := validation.ValidateVar(since, "required,len=8,number"); err != nil {
		return errors.ValidationError(fmt.Sprintf("Invalid DICOM date supplied for the 'since' parameter: %s", since))
	}
	return nil
}

// PurgeBefore deletes every study dated on or before since (YYYYMMDD, inclusive)
// and returns how many were deleted.
func (s *Service) PurgeBefore(ctx context.Context, since string) (int, error) {
	if err := ValidateDate(since); err != nil {
		return 0, err
	}

	studies, err := s.archive.FindStudiesBefore(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("finding studies dated up to %s: %w", since, err)
	}
	if err := s.archive.BulkDelete(ctx, studies); err != nil {
		return 0, fmt.Errorf("deleting %d studies: %w", len(studies), err)
	}

	s.logger.Info("Purged old studies",
		logging.Field{Key: "since", Value: since},
		logging.Field{Key: "deleted", Value: len(studies)},
	)
	return len(studies), nil
}

// PurgeOlderThan deletes studies dated retentionDays or more days ago
func (s *Service) PurgeOlderThan(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, errors.ValidationError("retention must be at least one day")
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays).Format(DateLayout)
	return s.PurgeBefore(ctx, cutoff)
}
