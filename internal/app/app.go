// Package app wires configuration, storage, collaborators, and servers into
// a runnable application container.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarryhq/quarry/db"
	"github.com/quarryhq/quarry/internal/config"
	"github.com/quarryhq/quarry/internal/content"
	"github.com/quarryhq/quarry/internal/database"
	"github.com/quarryhq/quarry/internal/embed"
	"github.com/quarryhq/quarry/internal/fetch"
	"github.com/quarryhq/quarry/internal/ingest"
	"github.com/quarryhq/quarry/internal/observability"
	"github.com/quarryhq/quarry/internal/queue"
	"github.com/quarryhq/quarry/internal/registry"
	"github.com/quarryhq/quarry/internal/search"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DBPool   *pgxpool.Pool
	Registry *registry.Store
	Queue    *queue.Store
	Content  *content.Store
	Engine   *search.Engine
	Workers  *ingest.Pool

	otelCleanup func()
}

// Options customizes Setup. Zero values pick the production defaults.
type Options struct {
	// Logger for all components. Nil falls back to slog.Default().
	Logger *slog.Logger

	// Fetcher overrides the default colly-based fetcher.
	Fetcher ingest.Fetcher

	// Embedder overrides the default Gemini embedder. Required in tests
	// that run workers without API credentials.
	Embedder ingest.Embedder

	// GeminiAPIKey for the default embedder. Empty falls back to the
	// GEMINI_API_KEY environment variable.
	GeminiAPIKey string
}

// Setup creates and initializes the application: migrations, pool, stores,
// search engine, and the worker pool. Returns an App with embedded cleanup;
// call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, opts Options) (_ *App, retErr error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	if cfg.Tracing.Enabled {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.Tracing.AgentHost,
			Environment: cfg.Tracing.Environment,
			ServiceName: cfg.Tracing.ServiceName,
		})
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
		a.otelCleanup = func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("trace exporter shutdown", "error", err)
			}
		}
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.DBPool = pool

	a.Registry, err = registry.NewStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating registry store: %w", err)
	}

	a.Queue = queue.NewStore(pool, queue.Options{
		MaxAttempts:  cfg.Queue.MaxAttempts,
		BackoffBase:  cfg.Queue.BackoffBase,
		LeaseTimeout: cfg.Queue.LeaseTimeout,
	}, logger)

	a.Content = content.NewStore(pool, logger)
	a.Engine = search.NewEngine(a.Content, logger)

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.New(fetch.Config{
			Timeout:     time.Duration(cfg.Fetcher.TimeoutMs) * time.Millisecond,
			Delay:       time.Duration(cfg.Fetcher.DelayMs) * time.Millisecond,
			Parallelism: cfg.Fetcher.Parallelism,
		}, logger)
	}

	embedder := opts.Embedder
	if embedder == nil {
		gemini, err := embed.NewGemini(ctx, opts.GeminiAPIKey, cfg.EmbedderModel, logger)
		if err != nil {
			return nil, fmt.Errorf("creating embedder: %w", err)
		}
		embedder = gemini
	}

	a.Workers = ingest.NewPool(
		cfg.Worker.Count,
		a.Queue,
		a.Registry,
		a.Content,
		fetcher,
		embedder,
		cfg.Worker.FetchesPerSecond,
		cfg.Worker.ReclaimInterval,
		logger,
	)

	return a, nil
}

// Close gracefully shuts down all resources.
func (a *App) Close() {
	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
}
