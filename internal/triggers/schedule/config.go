package schedule

import (
	"fmt"
	"time"

	"dicom-router/internal/common/validation"
	"dicom-router/internal/triggers"
)

// Config represents the configuration for cron scheduled jobs
type Config struct {
	Name string
	// CronSpec is a five field cron expression or a descriptor such as @daily or @every 1h
	CronSpec string
	Timezone string
}

func NewConfig(name, spec string) *Config {
	return &Config{
		Name:     name,
		CronSpec: spec,
		Timezone: "UTC",
	}
}

func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: trigger name is required", triggers.ErrInvalidTriggerConfig)
	}
	if c.CronSpec == "" {
		return fmt.Errorf("%w: cron spec is required", triggers.ErrInvalidTriggerConfig)
	}
	if _, err := validation.CronParser.Parse(c.CronSpec); err != nil {
		return fmt.Errorf("%w: invalid cron spec %q: %v", triggers.ErrInvalidTriggerConfig, c.CronSpec, err)
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: invalid timezone: %s", triggers.ErrInvalidTriggerConfig, c.Timezone)
	}
	return nil
}

func (c *Config) location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
