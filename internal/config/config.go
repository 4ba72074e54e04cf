// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.quarry/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Storage: PostgreSQL connection (see storage.go)
//   - Queue: retry, backoff, and lease tuning for the crawl queue
//   - Worker: poll interval, worker count, fetch pacing
//   - Embedder: Gemini embedding model and output dimension
//   - Server: HTTP API bind address, rate limiting
//
// Security: sensitive data (passwords, API keys) are never logged.
// Validation: range checks in validation.go with clear sentinel errors,
// performed at load time (fail-fast) rather than at first use.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// DefaultEmbedderModel is the default Gemini embedder model.
// gemini-embedding-001 outputs 3072 dimensions by default but supports
// truncation via OutputDimensionality (Matryoshka Representation Learning),
// which is how per-source dimensions are produced.
const DefaultEmbedderModel = "gemini-embedding-001"

// Config stores application configuration.
type Config struct {
	// Storage configuration (see storage.go for DSN helpers)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Queue tuning. These are configuration, not protocol: changing them
	// never changes claim semantics, only timing.
	Queue QueueConfig `mapstructure:"queue"`

	// Worker configuration
	Worker WorkerConfig `mapstructure:"worker"`

	// Embedder configuration
	EmbedderModel     string `mapstructure:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension"`

	// Fetcher configuration
	Fetcher FetcherConfig `mapstructure:"fetcher"`

	// Server configuration
	ServerAddr string `mapstructure:"server_addr"`
	RateBurst  int    `mapstructure:"rate_burst"`
	TrustProxy bool   `mapstructure:"trust_proxy"`

	// Observability configuration (optional OTLP tracing)
	Tracing TracingConfig `mapstructure:"tracing"`
}

// QueueConfig tunes retry and lease behavior of the crawl queue.
type QueueConfig struct {
	// MaxAttempts is the per-item retry budget before needs_review.
	MaxAttempts int `mapstructure:"max_attempts"`
	// BackoffBase is the base of the exponential retry delay
	// (delay = base * 2^attempt_count).
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	// LeaseTimeout is how long an in_progress item may hold its lease
	// before a reclaim sweep routes it through the failure path.
	LeaseTimeout time.Duration `mapstructure:"lease_timeout"`
}

// WorkerConfig tunes the ingestion worker pool.
type WorkerConfig struct {
	// Count is the number of concurrent workers polling the queue.
	Count int `mapstructure:"count"`
	// PollInterval is how often an idle worker re-checks the queue.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// ReclaimInterval is how often expired leases are swept.
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval"`
	// FetchesPerSecond paces outbound fetches across the pool.
	FetchesPerSecond float64 `mapstructure:"fetches_per_second"`
}

// FetcherConfig holds crawl politeness settings for the default fetcher.
type FetcherConfig struct {
	// Parallelism is max concurrent requests per domain (default: 2)
	Parallelism int `mapstructure:"parallelism"`
	// DelayMs is delay between requests in milliseconds (default: 1000)
	DelayMs int `mapstructure:"delay_ms"`
	// TimeoutMs is request timeout in milliseconds (default: 30000)
	TimeoutMs int `mapstructure:"timeout_ms"`
}

// TracingConfig holds OTLP trace export settings.
type TracingConfig struct {
	// Enabled turns on trace export. Default: false.
	Enabled bool `mapstructure:"enabled"`
	// AgentHost is the OTLP HTTP endpoint (default: localhost:4318).
	AgentHost string `mapstructure:"agent_host"`
	// ServiceName tags exported spans (default: quarry).
	ServiceName string `mapstructure:"service_name"`
	// Environment tags exported spans (default: dev).
	Environment string `mapstructure:"environment"`
}

// Dir returns the quarry configuration directory (~/.quarry), creating it
// if necessary.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user home directory: %w", err)
	}

	dir := filepath.Join(home, ".quarry")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	configDir, err := Dir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".") // Also support current directory

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing configuration file is not an error, defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when present.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "quarry")
	v.SetDefault("postgres_password", "quarry_dev_password")
	v.SetDefault("postgres_db_name", "quarry")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Queue defaults. Backoff base and lease timeout are deliberately
	// fixed, documented constants rather than protocol values.
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base", 30*time.Second)
	v.SetDefault("queue.lease_timeout", 5*time.Minute)

	// Worker defaults
	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.reclaim_interval", 30*time.Second)
	v.SetDefault("worker.fetches_per_second", 2.0)

	// Embedder defaults
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedder_dimension", 768)

	// Fetcher defaults
	v.SetDefault("fetcher.parallelism", 2)
	v.SetDefault("fetcher.delay_ms", 1000)
	v.SetDefault("fetcher.timeout_ms", 30000)

	// Server defaults
	v.SetDefault("server_addr", "127.0.0.1:3500")
	v.SetDefault("rate_burst", 60)
	v.SetDefault("trust_proxy", false)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.agent_host", "localhost:4318")
	v.SetDefault("tracing.service_name", "quarry")
	v.SetDefault("tracing.environment", "dev")
}

// bindEnvVariables binds environment overrides explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("postgres_password", "QUARRY_POSTGRES_PASSWORD")
	mustBind("server_addr", "QUARRY_SERVER_ADDR")
	mustBind("rate_burst", "QUARRY_RATE_BURST")
	mustBind("trust_proxy", "QUARRY_TRUST_PROXY")
	mustBind("worker.count", "QUARRY_WORKER_COUNT")
	mustBind("embedder_model", "QUARRY_EMBEDDER_MODEL")
	mustBind("embedder_dimension", "QUARRY_EMBEDDER_DIMENSION")
	mustBind("tracing.enabled", "QUARRY_TRACING_ENABLED")
	mustBind("tracing.agent_host", "QUARRY_TRACING_AGENT_HOST")

	// NOTE: GEMINI_API_KEY is read directly by the embed package, not via
	// Viper. Its presence is checked in cmd/serve before the embedder is
	// constructed.
}
