// Package config provides configuration management for the DICOM router.
// It loads configuration from environment variables with defaults matching a
// stock archive installation and validates it before the router starts.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: HTTP port for the admin and ingress endpoints (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Also write logs to this file (default: stdout only)
//   - TLS_CERT_FILE, TLS_KEY_FILE: Serve HTTPS when both are set
//
// Archive:
//   - ORTHANC_URL: Base URL of the archive REST API (default: http://localhost:8042)
//   - ORTHANC_USERNAME, ORTHANC_PASSWORD: Basic auth credentials
//   - ORTHANC_TIMEOUT: Timeout of metadata and maintenance calls (default: 30s)
//   - REQUESTED_TAGS: Comma separated extra tags fetched with each study (default: 00080061)
//   - DESTINATION_KIND: "modalities" or "peers" (default: modalities)
//
// Rules:
//   - RULES_STORE: "file" or "redis" (default: file)
//   - RULES_FILE_PATH: Persisted rule file (default: /var/lib/orthanc/db/dicom-routing-rules.json)
//   - RULES_READ_ONLY: Only GET is accepted on the admin endpoint (default: false)
//
// Forwarding:
//   - MOVE_ORIGINATOR_AET, MOVE_ORIGINATOR_ID: Attribution sent with each store
//   - FORWARD_COMPRESS, FORWARD_PERMISSIVE, FORWARD_PRIORITY, FORWARD_SYNCHRONOUS,
//     FORWARD_ASYNCHRONOUS, FORWARD_STORAGE_COMMITMENT: Store request body
//   - FORWARD_TIMEOUT: Per destination attempt timeout (default: 60s)
//   - FORWARD_CONCURRENCY: Destinations contacted in parallel (default: 4)
//   - FORWARD_RETRY_ATTEMPTS: Attempts per destination (default: 1)
//   - FORWARD_ALL_DESTINATIONS: Send every stable study to every destination, ignoring rules (default: false)
//   - FORWARD_DESTINATIONS: Destinations for FORWARD_ALL_DESTINATIONS; empty reads the archive's list at start-up
//   - CIRCUIT_BREAKER_ENABLED, CIRCUIT_BREAKER_MAX_FAILURES, CIRCUIT_BREAKER_TIMEOUT
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - REDIS_RULES_KEY: Key holding the rule set (default: dicom-router:rules)
//   - EVENT_DEDUP_WINDOW: Claim each stable study for this long across instances (default: 0, off)
//
// Event Sources:
//   - CHANGES_POLL_ENABLED, CHANGES_POLL_INTERVAL: Archive change feed poller (default: true, 5s)
//   - RABBITMQ_URL: Consume stable study events from AMQP when set
//   - STABLE_STUDY_QUEUE: Queue name (default: stable-studies)
//
// Audit Database:
//   - AUDIT_DATABASE_TYPE: "sqlite", "postgres" or "none" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./dicom_router.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_SSL_MODE
//
// Maintenance and Security:
//   - PURGE_SCHEDULE: Cron schedule of the retention purge (default: off)
//   - PURGE_RETENTION_DAYS: Studies older than this are purged (default: 365)
//   - ADMIN_JWT_SECRET: Require an HS256 bearer token on admin endpoints (minimum 32 characters)
//   - RATE_LIMIT_ENABLED, RATE_LIMIT_RPS, RATE_LIMIT_BURST: Per client limit on admin endpoints (default: true, 10, 20)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dicom-router/internal/common/errors"
	"dicom-router/internal/common/validation"
)

const (
	RulesStoreFile  = "file"
	RulesStoreRedis = "redis"

	AuditNone = "none"
)

// Config holds all configuration values of the router. JSON names are the
// environment variables so validation messages point at what to fix.
//
// The configuration is loaded using Load() and must be validated using
// Validate() before use.
type Config struct {
	// Application settings
	Port     int    `json:"PORT" validate:"min=1,max=65535"`
	LogLevel string `json:"LOG_LEVEL" validate:"log_level"`
	LogFile  string `json:"LOG_FILE"`
	TLSCert  string `json:"TLS_CERT_FILE" validate:"required_with=TLSKey"`
	TLSKey   string `json:"TLS_KEY_FILE" validate:"required_with=TLSCert"`

	// Archive REST API
	OrthancURL      string        `json:"ORTHANC_URL" validate:"required,url"`
	OrthancUsername string        `json:"ORTHANC_USERNAME"`
	OrthancPassword string        `json:"ORTHANC_PASSWORD"`
	OrthancTimeout  time.Duration `json:"ORTHANC_TIMEOUT" validate:"gt=0"`
	RequestedTags   []string      `json:"REQUESTED_TAGS" validate:"dive,dicom_tag"`
	DestinationKind string        `json:"DESTINATION_KIND" validate:"oneof=modalities peers"`

	// Rule storage
	RulesStore    string `json:"RULES_STORE" validate:"oneof=file redis"`
	RulesFilePath string `json:"RULES_FILE_PATH" validate:"required_if=RulesStore file"`
	RulesReadOnly bool   `json:"RULES_READ_ONLY"`

	// Forwarding
	MoveOriginatorAET        string        `json:"MOVE_ORIGINATOR_AET"`
	MoveOriginatorID         int           `json:"MOVE_ORIGINATOR_ID" validate:"min=0,max=65535"`
	ForwardCompress          bool          `json:"FORWARD_COMPRESS"`
	ForwardPermissive        bool          `json:"FORWARD_PERMISSIVE"`
	ForwardPriority          int           `json:"FORWARD_PRIORITY"`
	ForwardSynchronous       bool          `json:"FORWARD_SYNCHRONOUS"`
	ForwardAsynchronous      bool          `json:"FORWARD_ASYNCHRONOUS"`
	ForwardStorageCommitment bool          `json:"FORWARD_STORAGE_COMMITMENT"`
	ForwardTimeout           time.Duration `json:"FORWARD_TIMEOUT" validate:"gt=0"`
	ForwardConcurrency       int           `json:"FORWARD_CONCURRENCY" validate:"min=1,max=64"`
	ForwardRetryAttempts     int           `json:"FORWARD_RETRY_ATTEMPTS" validate:"min=1,max=10"`
	ForwardAllDestinations   bool          `json:"FORWARD_ALL_DESTINATIONS"`
	ForwardDestinations      []string      `json:"FORWARD_DESTINATIONS"`

	// Per destination circuit breaker
	CircuitBreakerEnabled     bool          `json:"CIRCUIT_BREAKER_ENABLED"`
	CircuitBreakerMaxFailures int           `json:"CIRCUIT_BREAKER_MAX_FAILURES" validate:"min=1"`
	CircuitBreakerTimeout     time.Duration `json:"CIRCUIT_BREAKER_TIMEOUT" validate:"gt=0"`

	// Redis configuration for the shared rule store and event de-duplication
	RedisAddress     string        `json:"REDIS_ADDRESS" validate:"required_if=RulesStore redis"`
	RedisPassword    string        `json:"REDIS_PASSWORD"`
	RedisDB          int           `json:"REDIS_DB" validate:"min=0,max=15"`
	RedisPoolSize    int           `json:"REDIS_POOL_SIZE" validate:"min=1"`
	RedisRulesKey    string        `json:"REDIS_RULES_KEY" validate:"required_if=RulesStore redis"`
	EventDedupWindow time.Duration `json:"EVENT_DEDUP_WINDOW" validate:"gte=0"`

	// Event sources
	ChangesPollEnabled  bool          `json:"CHANGES_POLL_ENABLED"`
	ChangesPollInterval time.Duration `json:"CHANGES_POLL_INTERVAL" validate:"gt=0"`
	RabbitMQURL         string        `json:"RABBITMQ_URL" validate:"omitempty,url"`
	StableStudyQueue    string        `json:"STABLE_STUDY_QUEUE" validate:"required_with=RabbitMQURL"`

	// Dispatch audit database
	AuditDatabaseType string `json:"AUDIT_DATABASE_TYPE" validate:"oneof=sqlite postgres none"`
	DatabasePath      string `json:"DATABASE_PATH" validate:"required_if=AuditDatabaseType sqlite"`
	PostgresHost      string `json:"POSTGRES_HOST" validate:"required_if=AuditDatabaseType postgres"`
	PostgresPort      int    `json:"POSTGRES_PORT" validate:"min=1,max=65535"`
	PostgresDB        string `json:"POSTGRES_DB" validate:"required_if=AuditDatabaseType postgres"`
	PostgresUser      string `json:"POSTGRES_USER" validate:"required_if=AuditDatabaseType postgres"`
	PostgresPassword  string `json:"POSTGRES_PASSWORD"`
	PostgresSSLMode   string `json:"POSTGRES_SSL_MODE" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	// Maintenance
	PurgeSchedule      string `json:"PURGE_SCHEDULE" validate:"cron_spec"`
	PurgeRetentionDays int    `json:"PURGE_RETENTION_DAYS" validate:"min=1"`

	// Admin authentication, disabled when empty
	AdminJWTSecret string `json:"ADMIN_JWT_SECRET" validate:"omitempty,min=32"`

	// Per client rate limiting of the admin and ingress endpoints
	RateLimitEnabled bool    `json:"RATE_LIMIT_ENABLED"`
	RateLimitRPS     float64 `json:"RATE_LIMIT_RPS" validate:"gt=0"`
	RateLimitBurst   int     `json:"RATE_LIMIT_BURST" validate:"min=1"`

	// loadErrors collects values that could not be parsed
	loadErrors []string
}

// Load creates a new Config instance with values loaded from environment variables.
// If an environment variable is not set, the corresponding default value is used.
//
// Values that cannot be parsed keep their default and are reported by Validate.
func Load() *Config {
	env := &envReader{}
	config := &Config{
		Port:     env.int("PORT", 8080),
		LogLevel: env.string("LOG_LEVEL", "info"),
		LogFile:  env.string("LOG_FILE", ""),
		TLSCert:  env.string("TLS_CERT_FILE", ""),
		TLSKey:   env.string("TLS_KEY_FILE", ""),

		OrthancURL:      env.string("ORTHANC_URL", "http://localhost:8042"),
		OrthancUsername: env.string("ORTHANC_USERNAME", ""),
		OrthancPassword: env.string("ORTHANC_PASSWORD", ""),
		OrthancTimeout:  env.duration("ORTHANC_TIMEOUT", 30*time.Second),
		RequestedTags:   env.list("REQUESTED_TAGS", []string{"00080061"}),
		DestinationKind: env.string("DESTINATION_KIND", "modalities"),

		RulesStore:    env.string("RULES_STORE", RulesStoreFile),
		RulesFilePath: env.string("RULES_FILE_PATH", "/var/lib/orthanc/db/dicom-routing-rules.json"),
		RulesReadOnly: env.bool("RULES_READ_ONLY", false),

		MoveOriginatorAET:        env.string("MOVE_ORIGINATOR_AET", "MoveOriginatorAet"),
		MoveOriginatorID:         env.int("MOVE_ORIGINATOR_ID", 0),
		ForwardCompress:          env.bool("FORWARD_COMPRESS", true),
		ForwardPermissive:        env.bool("FORWARD_PERMISSIVE", true),
		ForwardPriority:          env.int("FORWARD_PRIORITY", 0),
		ForwardSynchronous:       env.bool("FORWARD_SYNCHRONOUS", false),
		ForwardAsynchronous:      env.bool("FORWARD_ASYNCHRONOUS", false),
		ForwardStorageCommitment: env.bool("FORWARD_STORAGE_COMMITMENT", false),
		ForwardTimeout:           env.duration("FORWARD_TIMEOUT", 60*time.Second),
		ForwardConcurrency:       env.int("FORWARD_CONCURRENCY", 4),
		ForwardRetryAttempts:     env.int("FORWARD_RETRY_ATTEMPTS", 1),
		ForwardAllDestinations:   env.bool("FORWARD_ALL_DESTINATIONS", false),
		ForwardDestinations:      env.list("FORWARD_DESTINATIONS", nil),

		CircuitBreakerEnabled:     env.bool("CIRCUIT_BREAKER_ENABLED", true),
		CircuitBreakerMaxFailures: env.int("CIRCUIT_BREAKER_MAX_FAILURES", 5),
		CircuitBreakerTimeout:     env.duration("CIRCUIT_BREAKER_TIMEOUT", 60*time.Second),

		RedisAddress:     env.string("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:    env.string("REDIS_PASSWORD", ""),
		RedisDB:          env.int("REDIS_DB", 0),
		RedisPoolSize:    env.int("REDIS_POOL_SIZE", 10),
		RedisRulesKey:    env.string("REDIS_RULES_KEY", "dicom-router:rules"),
		EventDedupWindow: env.duration("EVENT_DEDUP_WINDOW", 0),

		ChangesPollEnabled:  env.bool("CHANGES_POLL_ENABLED", true),
		ChangesPollInterval: env.duration("CHANGES_POLL_INTERVAL", 5*time.Second),
		RabbitMQURL:         env.string("RABBITMQ_URL", ""),
		StableStudyQueue:    env.string("STABLE_STUDY_QUEUE", "stable-studies"),

		AuditDatabaseType: strings.ToLower(env.string("AUDIT_DATABASE_TYPE", "sqlite")),
		DatabasePath:      env.string("DATABASE_PATH", "./dicom_router.db"),
		PostgresHost:      env.string("POSTGRES_HOST", "localhost"),
		PostgresPort:      env.int("POSTGRES_PORT", 5432),
		PostgresDB:        env.string("POSTGRES_DB", "dicom_router"),
		PostgresUser:      env.string("POSTGRES_USER", "postgres"),
		PostgresPassword:  env.string("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:   env.string("POSTGRES_SSL_MODE", "disable"),

		PurgeSchedule:      env.string("PURGE_SCHEDULE", ""),
		PurgeRetentionDays: env.int("PURGE_RETENTION_DAYS", 365),

		AdminJWTSecret: env.string("ADMIN_JWT_SECRET", ""),

		RateLimitEnabled: env.bool("RATE_LIMIT_ENABLED", true),
		RateLimitRPS:     env.float("RATE_LIMIT_RPS", 10),
		RateLimitBurst:   env.int("RATE_LIMIT_BURST", 20),
	}
	if config.AuditDatabaseType == "postgresql" {
		config.AuditDatabaseType = "postgres"
	}
	config.loadErrors = env.errs
	return config
}

// Validate performs validation on the configuration to ensure all required
// fields are present and all values are valid.
//
// This method checks:
//   - Values that failed to parse during Load
//   - Field formats (ports, URLs, durations, DICOM tags, cron schedules)
//   - Cross-field dependencies (Redis rule store, PostgreSQL audit database, TLS pair)
//
// The returned error is a ConfigError listing every problem found.
func (c *Config) Validate() error {
	problems := append([]string(nil), c.loadErrors...)
	if err := validation.ValidateStruct(c); err != nil {
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) {
			problems = append(problems, strings.TrimPrefix(appErr.Message, "validation failed: "))
		} else {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.ConfigError(fmt.Sprintf("invalid configuration: %s", strings.Join(problems, "; ")))
}

// UsesRedis reports whether any component needs the Redis connection
func (c *Config) UsesRedis() bool {
	return c.RulesStore == RulesStoreRedis || c.EventDedupWindow > 0
}

// AuditEnabled reports whether dispatch outcomes are persisted
func (c *Config) AuditEnabled() bool {
	return c.AuditDatabaseType != AuditNone
}

// TLSEnabled reports whether the HTTP server should serve HTTPS
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// envReader reads typed environment variables and remembers parse failures
type envReader struct {
	errs []string
}

// string retrieves an environment variable value or returns a default value if not set
func (e *envReader) string(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// bool accepts the representations understood by strconv.ParseBool
func (e *envReader) bool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s must be a boolean, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (e *envReader) int(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s must be a number, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (e *envReader) float(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s must be a number, got %q", key, value))
		return defaultValue
	}
	return parsed
}

// duration accepts Go durations ("90s", "5m") and plain seconds ("90")
func (e *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s must be a duration such as 30s or 5m, got %q", key, value))
		return defaultValue
	}
	return parsed
}

// list splits a comma separated value, dropping empty items
func (e *envReader) list(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
