package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	JWT       JWTConfig
	Pods      PodConfig
	Jobs      JobsConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port           string        `env:"SERVER_PORT" envDefault:"8080"`
	Env            string        `env:"SERVER_ENV" envDefault:"development"`
	ReadTimeout    time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	AllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
}

// DatabaseConfig holds SurrealDB connection settings
type DatabaseConfig struct {
	Host      string `env:"DB_HOST" envDefault:"localhost"`
	Port      string `env:"DB_PORT" envDefault:"8000"`
	Namespace string `env:"DB_NAMESPACE" envDefault:"somi"`
	Database  string `env:"DB_DATABASE" envDefault:"main"`
	User      string `env:"DB_USER" envDefault:"root"`
	Password  string `env:"DB_PASSWORD" envDefault:"root"`
}

// StorageConfig holds the local event journal and projection paths
type StorageConfig struct {
	JournalPath    string `env:"JOURNAL_PATH" envDefault:"./data/journal.db"`
	ProjectionPath string `env:"PROJECTION_PATH" envDefault:"./data/projection.db"`
}

// JWTConfig holds token verification settings
type JWTConfig struct {
	Secret         string `env:"JWT_SECRET"`
	Issuer         string `env:"JWT_ISSUER" envDefault:"somi.forgo.software"`
	ExpirationMins int    `env:"JWT_EXPIRATION_MINS" envDefault:"15"`
}

// PodConfig holds pod activation rules
type PodConfig struct {
	ActivationPolicy    string `env:"POD_ACTIVATION_POLICY" envDefault:"threshold"`
	ActivationThreshold int    `env:"POD_ACTIVATION_THRESHOLD" envDefault:"3"`
}

// JobsConfig holds background and batch timing
type JobsConfig struct {
	BatchClaimDelay  time.Duration `env:"BATCH_CLAIM_DELAY" envDefault:"2s"`
	IndexerInterval  time.Duration `env:"INDEXER_INTERVAL" envDefault:"5s"`
	IndexerPageSize  int           `env:"INDEXER_PAGE_SIZE" envDefault:"500"`
	FeedHeartbeat    time.Duration `env:"FEED_HEARTBEAT" envDefault:"30s"`
	MaturityInterval time.Duration `env:"MATURITY_INTERVAL" envDefault:"1m"`
	MaturityWindow   time.Duration `env:"MATURITY_WINDOW" envDefault:"24h"`
}

// TelemetryConfig holds OpenTelemetry exporter settings
type TelemetryConfig struct {
	ExporterEndpoint string  `env:"OTEL_EXPORTER_ENDPOINT"`
	ServiceName      string  `env:"OTEL_SERVICE_NAME" envDefault:"somi-api"`
	SampleRatio      float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// TracingEnabled reports whether spans are exported
func (c *Config) TracingEnabled() bool {
	return c.Telemetry.ExporterEndpoint != ""
}

// Validate checks that all required configuration values are present and valid.
// It returns an error describing all validation failures, or nil if valid.
func (c *Config) Validate() error {
	var errs []error

	// Server validation
	if c.Server.Port == "" {
		errs = append(errs, errors.New("SERVER_PORT is required"))
	}
	if c.Server.Env != "development" && c.Server.Env != "production" && c.Server.Env != "test" {
		errs = append(errs, fmt.Errorf("SERVER_ENV must be 'development', 'production', or 'test', got '%s'", c.Server.Env))
	}
	if len(c.Server.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("CORS_ALLOWED_ORIGINS must have at least one origin"))
	}
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got '%s'", c.Server.LogLevel))
	}

	// Database validation
	if c.Database.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.Database.Port == "" {
		errs = append(errs, errors.New("DB_PORT is required"))
	}
	if c.Database.Namespace == "" {
		errs = append(errs, errors.New("DB_NAMESPACE is required"))
	}
	if c.Database.Database == "" {
		errs = append(errs, errors.New("DB_DATABASE is required"))
	}

	// Storage validation
	if c.Storage.JournalPath == "" {
		errs = append(errs, errors.New("JOURNAL_PATH is required"))
	}
	if c.Storage.ProjectionPath == "" {
		errs = append(errs, errors.New("PROJECTION_PATH is required"))
	}
	if c.Storage.JournalPath != "" && c.Storage.JournalPath == c.Storage.ProjectionPath {
		errs = append(errs, errors.New("JOURNAL_PATH and PROJECTION_PATH must differ"))
	}

	// JWT validation - critical for production
	if c.IsProduction() && len(c.JWT.Secret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET of at least 32 bytes is required in production"))
	}
	if c.JWT.ExpirationMins <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRATION_MINS must be positive"))
	}

	// Pod activation validation
	switch c.Pods.ActivationPolicy {
	case "threshold":
		if c.Pods.ActivationThreshold < 3 || c.Pods.ActivationThreshold > 5 {
			errs = append(errs, fmt.Errorf("POD_ACTIVATION_THRESHOLD must be between 3 and 5, got %d", c.Pods.ActivationThreshold))
		}
	case "on_close":
	default:
		errs = append(errs, fmt.Errorf("POD_ACTIVATION_POLICY must be 'threshold' or 'on_close', got '%s'", c.Pods.ActivationPolicy))
	}

	// Jobs validation
	if c.Jobs.BatchClaimDelay < 0 {
		errs = append(errs, errors.New("BATCH_CLAIM_DELAY must not be negative"))
	}
	if c.Jobs.IndexerInterval <= 0 {
		errs = append(errs, errors.New("INDEXER_INTERVAL must be positive"))
	}
	if c.Jobs.IndexerPageSize <= 0 {
		errs = append(errs, errors.New("INDEXER_PAGE_SIZE must be positive"))
	}
	if c.Jobs.FeedHeartbeat <= 0 {
		errs = append(errs, errors.New("FEED_HEARTBEAT must be positive"))
	}
	if c.Jobs.MaturityInterval <= 0 {
		errs = append(errs, errors.New("MATURITY_INTERVAL must be positive"))
	}
	if c.Jobs.MaturityWindow < 0 {
		errs = append(errs, errors.New("MATURITY_WINDOW must not be negative"))
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLE_RATIO must be within [0, 1], got %v", c.Telemetry.SampleRatio))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
