package config

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for configuration validation, checked with errors.Is.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidMaxAttempts indicates the queue retry budget is out of range.
	ErrInvalidMaxAttempts = errors.New("invalid max attempts")

	// ErrInvalidBackoffBase indicates the backoff base duration is invalid.
	ErrInvalidBackoffBase = errors.New("invalid backoff base")

	// ErrInvalidLeaseTimeout indicates the lease timeout is invalid.
	ErrInvalidLeaseTimeout = errors.New("invalid lease timeout")

	// ErrInvalidWorkerCount indicates the worker count is out of range.
	ErrInvalidWorkerCount = errors.New("invalid worker count")

	// ErrInvalidPollInterval indicates the worker poll interval is invalid.
	ErrInvalidPollInterval = errors.New("invalid poll interval")

	// ErrInvalidEmbedderModel indicates the embedder model is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedder output dimension
	// is not one of the supported vector sizes.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidServerAddr indicates the HTTP bind address is invalid.
	ErrInvalidServerAddr = errors.New("invalid server address")
)

// validSSLModes are the PostgreSQL sslmode values accepted by pgx.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// supportedEmbedderDimensions mirrors content.SupportedDimensions. Kept as a
// local copy so config does not import the storage layer.
var supportedEmbedderDimensions = map[int]bool{
	384: true, 768: true, 1024: true, 1536: true, 3072: true,
}

const maxWorkerCount = 64

// Validate checks all configuration values and returns the first failure.
// Called from Load so invalid configuration is rejected at startup.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if c.Queue.MaxAttempts < 1 || c.Queue.MaxAttempts > 10 {
		return fmt.Errorf("%w: %d out of range 1-10", ErrInvalidMaxAttempts, c.Queue.MaxAttempts)
	}
	if c.Queue.BackoffBase <= 0 {
		return fmt.Errorf("%w: must be positive, got %s", ErrInvalidBackoffBase, c.Queue.BackoffBase)
	}
	if c.Queue.LeaseTimeout <= 0 {
		return fmt.Errorf("%w: must be positive, got %s", ErrInvalidLeaseTimeout, c.Queue.LeaseTimeout)
	}

	if c.Worker.Count < 1 || c.Worker.Count > maxWorkerCount {
		return fmt.Errorf("%w: %d out of range 1-%d", ErrInvalidWorkerCount, c.Worker.Count, maxWorkerCount)
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("%w: must be positive, got %s", ErrInvalidPollInterval, c.Worker.PollInterval)
	}

	if strings.TrimSpace(c.EmbedderModel) == "" {
		return ErrInvalidEmbedderModel
	}
	if !supportedEmbedderDimensions[c.EmbedderDimension] {
		return fmt.Errorf("%w: %d (supported: 384, 768, 1024, 1536, 3072)",
			ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}

	if strings.TrimSpace(c.ServerAddr) == "" {
		return ErrInvalidServerAddr
	}

	return nil
}
