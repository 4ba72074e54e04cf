package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a configuration that passes Validate.
func validConfig() *Config {
	return &Config{
		PostgresHost:     "localhost",
		PostgresPort:     5432,
		PostgresUser:     "quarry",
		PostgresPassword: "secret",
		PostgresDBName:   "quarry",
		PostgresSSLMode:  "disable",
		Queue: QueueConfig{
			MaxAttempts:  3,
			BackoffBase:  30 * time.Second,
			LeaseTimeout: 5 * time.Minute,
		},
		Worker: WorkerConfig{
			Count:           2,
			PollInterval:    time.Second,
			ReclaimInterval: 30 * time.Second,
		},
		EmbedderModel:     DefaultEmbedderModel,
		EmbedderDimension: 768,
		ServerAddr:        "127.0.0.1:3500",
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_NilConfig(t *testing.T) {
	var cfg *Config
	assert.ErrorIs(t, cfg.Validate(), ErrConfigNil)
}

func TestValidate_Postgres(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"empty host", func(c *Config) { c.PostgresHost = " " }, ErrInvalidPostgresHost},
		{"port too low", func(c *Config) { c.PostgresPort = 0 }, ErrInvalidPostgresPort},
		{"port too high", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
		{"empty db name", func(c *Config) { c.PostgresDBName = "" }, ErrInvalidPostgresDBName},
		{"bad ssl mode", func(c *Config) { c.PostgresSSLMode = "yes" }, ErrInvalidPostgresSSLMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestValidate_QueueAndWorker(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"zero attempts", func(c *Config) { c.Queue.MaxAttempts = 0 }, ErrInvalidMaxAttempts},
		{"too many attempts", func(c *Config) { c.Queue.MaxAttempts = 11 }, ErrInvalidMaxAttempts},
		{"zero backoff", func(c *Config) { c.Queue.BackoffBase = 0 }, ErrInvalidBackoffBase},
		{"negative lease", func(c *Config) { c.Queue.LeaseTimeout = -time.Second }, ErrInvalidLeaseTimeout},
		{"zero workers", func(c *Config) { c.Worker.Count = 0 }, ErrInvalidWorkerCount},
		{"too many workers", func(c *Config) { c.Worker.Count = 100 }, ErrInvalidWorkerCount},
		{"zero poll interval", func(c *Config) { c.Worker.PollInterval = 0 }, ErrInvalidPollInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestValidate_Embedder(t *testing.T) {
	cfg := validConfig()
	cfg.EmbedderModel = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidEmbedderModel)

	cfg = validConfig()
	cfg.EmbedderDimension = 512
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidEmbedderDimension)

	// All supported dimensions pass.
	for _, dim := range []int{384, 768, 1024, 1536, 3072} {
		cfg = validConfig()
		cfg.EmbedderDimension = dim
		assert.NoError(t, cfg.Validate(), "dimension %d should be valid", dim)
	}
}

func TestValidate_ServerAddr(t *testing.T) {
	cfg := validConfig()
	cfg.ServerAddr = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidServerAddr)
}
