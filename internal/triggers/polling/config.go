package polling

import (
	"fmt"
	"time"

	"dicom-router/internal/triggers"
)

type Config struct {
	Name string
	// Interval between two reads of the change log once it is drained
	Interval time.Duration
	// BatchSize is the limit passed to every change log read
	BatchSize int
	// StartFromLast skips the changes that happened before the router started
	StartFromLast bool
	// MaxConsecutiveErrors after which Health reports the trigger unhealthy
	MaxConsecutiveErrors int
}

func DefaultConfig() *Config {
	return &Config{
		Name:                 "orthanc-changes",
		Interval:             5 * time.Second,
		BatchSize:            100,
		StartFromLast:        true,
		MaxConsecutiveErrors: 3,
	}
}

func (c *Config) Validate() error {
	if c.Name == "" {
		c.Name = "orthanc-changes"
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: polling interval must be positive", triggers.ErrInvalidTriggerConfig)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchSize > 1000 {
		return fmt.Errorf("%w: batch size cannot exceed 1000", triggers.ErrInvalidTriggerConfig)
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 3
	}
	return nil
}
