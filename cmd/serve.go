package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quarryhq/quarry/internal/api"
	"github.com/quarryhq/quarry/internal/app"
	"github.com/quarryhq/quarry/internal/config"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and ingestion workers",
	Long: `Serve runs the JSON API (enqueue, progress, review, search) and the
ingestion worker pool in one process. Workers claim queued items, fetch and
extract pages, embed the chunks, and store them for retrieval.

Requires GEMINI_API_KEY for the embedder.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server_addr from config)")
	rootCmd.AddCommand(serveCmd)
}

// checkRequiredEnv verifies environment variables serve cannot run without.
func checkRequiredEnv() error {
	if os.Getenv("GEMINI_API_KEY") == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY environment variable not set")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "The ingestion workers need a Gemini API key to embed chunks.")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "To set your API key:")
		fmt.Fprintln(os.Stderr, "  export GEMINI_API_KEY=your-api-key")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Get your API key at: https://ai.google.dev/")

		return fmt.Errorf("GEMINI_API_KEY not set")
	}
	return nil
}

// runServe initializes the application and runs the HTTP server and worker
// pool until SIGINT/SIGTERM.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := checkRequiredEnv(); err != nil {
		return err
	}

	addr := cfg.ServerAddr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	logger.Info("starting quarry", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	srv, err := api.NewServer(api.ServerConfig{
		Logger:     logger,
		Queue:      a.Queue,
		Search:     a.Engine,
		Pool:       a.DBPool,
		TrustProxy: cfg.TrustProxy,
		RateBurst:  cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Workers.Run(ctx, cfg.Worker.PollInterval)
	}()

	logger.Info("quarry ready",
		"addr", addr,
		"api", "/api/v1/*",
		"health", "/health, /ready",
		"workers", cfg.Worker.Count,
	)

	err = srv.Run(ctx, addr)

	// Stop the workers even when the server failed on its own.
	cancel()
	wg.Wait()

	if err != nil {
		return fmt.Errorf("HTTP server: %w", err)
	}
	return nil
}
