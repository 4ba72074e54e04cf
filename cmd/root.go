// Package cmd provides the quarry CLI commands.
//
// Commands:
//   - serve: HTTP API server plus the ingestion worker pool
//   - enqueue: enqueue registered sources for crawling via a running server
//   - status: batch progress and review queue via a running server
//   - source: manage the source registry directly against the database
//   - version: build information
//
// Signal handling and graceful shutdown are implemented for serve via
// context cancellation.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quarryhq/quarry/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Quarry - documentation crawler and hybrid retrieval engine",
	Long: `Quarry crawls documentation sites through a persistent priority queue,
extracts prose and code per source policy, embeds the chunks, and serves
hybrid (vector + keyword) search over the result.

Run 'quarry serve' to start the API server and ingestion workers, then
'quarry enqueue' to feed it sources.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the main entry point for the quarry CLI.
func Execute() error {
	initLogger()
	return rootCmd.Execute()
}

// initLogger initializes the default structured logger.
//
// Log level is controlled by the DEBUG environment variable:
//   - DEBUG set (any value): debug level logging
//   - DEBUG not set: info level logging
//
// Logs go to stderr so stdout stays clean for command output.
func initLogger() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(log.New(log.Config{Level: level}))
}
