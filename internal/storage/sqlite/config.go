package sqlite

import (
	"fmt"
)

type Config struct {
	DatabasePath string
}

func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	return nil
}

func (c *Config) GetType() string {
	return "sqlite"
}

// GetConnectionString enables WAL and a busy timeout so concurrent dispatch
// goroutines do not fail with "database is locked"
func (c *Config) GetConnectionString() string {
	if c.DatabasePath == ":memory:" {
		return "file::memory:?cache=shared&_busy_timeout=5000"
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", c.DatabasePath)
}

func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "./dicom_router.db",
	}
}
