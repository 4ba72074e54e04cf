package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarryhq/quarry/db"
	"github.com/quarryhq/quarry/internal/config"
	"github.com/quarryhq/quarry/internal/database"
	"github.com/quarryhq/quarry/internal/registry"
)

var (
	sourceURL           string
	sourcePriority      string
	sourceDimension     int
	sourceMinCodeLen    int
	sourceSmallSnippets bool
	sourceSkipProse     bool
	sourceIndicatorsMin int
	sourceStrategy      string
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage the source registry",
}

var sourceAddCmd = &cobra.Command{
	Use:   "add <source-id>",
	Short: "Register a source or update its extraction policy",
	Long: `Add registers a documentation source directly in the database. Running it
again with the same ID updates the policy in place; already-ingested content
is untouched until the source is re-crawled.

The extraction policy controls which fetched code blocks are kept: blocks
shorter than --min-code-length are discarded unless --small-snippets is set
and the block shows at least --code-indicators-min code markers.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSourceAdd(args[0])
	},
}

func init() {
	sourceAddCmd.Flags().StringVar(&sourceURL, "url", "", "base URL to crawl (required)")
	sourceAddCmd.Flags().StringVar(&sourcePriority, "priority", string(registry.PriorityNormal), "priority class: high or normal")
	sourceAddCmd.Flags().IntVar(&sourceDimension, "dimension", 768, "embedding dimension for this source")
	sourceAddCmd.Flags().IntVar(&sourceMinCodeLen, "min-code-length", registry.DefaultMinCodeLength, "minimum code block length to keep")
	sourceAddCmd.Flags().BoolVar(&sourceSmallSnippets, "small-snippets", false, "keep short code blocks that look like code")
	sourceAddCmd.Flags().BoolVar(&sourceSkipProse, "skip-prose-filter", false, "keep all prose paragraphs unfiltered")
	sourceAddCmd.Flags().IntVar(&sourceIndicatorsMin, "code-indicators-min", registry.DefaultCodeIndicatorsMin, "code markers required to keep a small snippet")
	sourceAddCmd.Flags().StringVar(&sourceStrategy, "strategy", string(registry.StrategyBalanced), "extraction strategy: aggressive, balanced, or conservative")

	sourceCmd.AddCommand(sourceAddCmd)
	rootCmd.AddCommand(sourceCmd)
}

func runSourceAdd(id string) error {
	if sourceURL == "" {
		return fmt.Errorf("--url is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Migrate first so source add works against a fresh database.
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	reg, err := registry.NewStore(pool, nil)
	if err != nil {
		return fmt.Errorf("creating registry store: %w", err)
	}

	policy := registry.ExtractionPolicy{
		MinCodeLength:       sourceMinCodeLen,
		EnableSmallSnippets: sourceSmallSnippets,
		SkipProseFilter:     sourceSkipProse,
		CodeIndicatorsMin:   sourceIndicatorsMin,
		Strategy:            registry.ExtractionStrategy(sourceStrategy),
	}

	class := registry.PriorityClass(sourcePriority)
	if err := reg.UpsertPolicy(ctx, id, class, policy, sourceDimension, sourceURL); err != nil {
		return fmt.Errorf("registering source: %w", err)
	}

	fmt.Printf("Source %q registered\n", id)
	fmt.Printf("  url:       %s\n", sourceURL)
	fmt.Printf("  priority:  %s\n", class)
	fmt.Printf("  dimension: %d\n", sourceDimension)
	fmt.Printf("  strategy:  %s\n", policy.Strategy)
	return nil
}
