// Package api exposes the ingestion queue and hybrid search over JSON HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger     *slog.Logger
	Queue      QueueService  // Required
	Search     SearchService // Required
	Pool       *pgxpool.Pool // Optional: nil disables pool stats in /ready
	TrustProxy bool          // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst  int           // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Queue == nil {
		return nil, errors.New("queue service is required")
	}
	if cfg.Search == nil {
		return nil, errors.New("search service is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bh := &batchHandler{queue: cfg.Queue, logger: logger}
	sh := &searchHandler{engine: cfg.Search, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/batches", bh.enqueue)
	mux.HandleFunc("GET /api/v1/batches/{id}/progress", bh.progress)
	mux.HandleFunc("GET /api/v1/review", bh.review)
	mux.HandleFunc("POST /api/v1/review/{id}/requeue", bh.requeue)
	mux.HandleFunc("POST /api/v1/search", sh.search)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → RequestID → Logging → RateLimit → Routes
	// RequestID sits before Logging so request_id is available in log
	// attributes.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack so they stay cheap and are
	// never rate-limited away from the orchestrator.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux, logger: logger}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves on addr until the context is canceled, then shuts down
// gracefully with a 10s drain window.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	s.logger.Info("http server stopped")

	return nil
}
