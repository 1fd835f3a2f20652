package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for qagen-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional statistics read cache)
	Redis RedisConfig `yaml:"redis"`

	// Ingest configuration
	Ingest IngestConfig `yaml:"ingest"`

	// Progress estimator configuration
	Progress ProgressConfig `yaml:"progress"`

	// MigrationsPath is the directory containing SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// JWTSecret signs access tokens. Server refuses to start without it.
	JWTSecret string `yaml:"-" env:"JWT_SECRET"` // Secret - not in YAML

	// AccessTokenTTLMinutes is the lifetime of issued access tokens.
	AccessTokenTTLMinutes int `yaml:"access_token_ttl_minutes" env:"ACCESS_TOKEN_TTL_MINUTES" env-default:"15"`

	// RefreshTokenTTLHours is the lifetime of refresh tokens.
	RefreshTokenTTLHours int `yaml:"refresh_token_ttl_hours" env:"REFRESH_TOKEN_TTL_HOURS" env-default:"168"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"qagen"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"qagen_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis cache configuration.
// Redis is optional: an empty host disables the statistics cache.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// StatsTTLSeconds bounds staleness if an invalidation is ever lost.
	StatsTTLSeconds int `yaml:"stats_ttl_seconds" env:"REDIS_STATS_TTL_SECONDS" env-default:"300"`
}

// IngestConfig holds QA record ingest settings.
type IngestConfig struct {
	// MaxRetries bounds retries of the ingest transaction on transient errors.
	MaxRetries int `yaml:"max_retries" env:"INGEST_MAX_RETRIES" env-default:"3"`
	// RetryInitialDelayMs is the initial backoff before the first retry.
	RetryInitialDelayMs int `yaml:"retry_initial_delay_ms" env:"INGEST_RETRY_INITIAL_DELAY_MS" env-default:"100"`
	// RetryMaxDelayMs caps the backoff between retries.
	RetryMaxDelayMs int `yaml:"retry_max_delay_ms" env:"INGEST_RETRY_MAX_DELAY_MS" env-default:"5000"`
}

// ProgressConfig holds progress estimator settings.
type ProgressConfig struct {
	// WindowSeconds is the sliding window over which throughput is computed.
	WindowSeconds int `yaml:"window_seconds" env:"PROGRESS_WINDOW_SECONDS" env-default:"30"`
	// MaxSamples bounds the sample ring per run.
	MaxSamples int `yaml:"max_samples" env:"PROGRESS_MAX_SAMPLES" env-default:"128"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Environment variables override YAML values. Secrets (PGPASSWORD, JWT_SECRET,
// REDIS_PASSWORD) must come from environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.Auth.AccessTokenTTLMinutes <= 0 {
		return fmt.Errorf("access_token_ttl_minutes must be positive")
	}
	if c.Auth.RefreshTokenTTLHours <= 0 {
		return fmt.Errorf("refresh_token_ttl_hours must be positive")
	}
	if c.Progress.WindowSeconds <= 0 {
		return fmt.Errorf("progress window_seconds must be positive")
	}
	if c.Progress.MaxSamples < 2 {
		return fmt.Errorf("progress max_samples must be at least 2")
	}
	return nil
}

// AccessTokenTTL returns the access token lifetime as a duration.
func (c *AuthConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// RefreshTokenTTL returns the refresh token lifetime as a duration.
func (c *AuthConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLHours) * time.Hour
}

// ProgressWindow returns the sliding window as a duration.
func (c *ProgressConfig) ProgressWindow() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// StatsTTL returns the statistics cache TTL as a duration.
func (c *RedisConfig) StatsTTL() time.Duration {
	return time.Duration(c.StatsTTLSeconds) * time.Second
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
