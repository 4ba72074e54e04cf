package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	enqueueServer string
	enqueueHint   int
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <source-id>...",
	Short: "Enqueue registered sources for crawling",
	Long: `Enqueue submits source IDs to a running quarry server. The server carves
the list into batches of at most --batch-size items, preserving order, and
queues one crawl item per source. High-priority sources are claimed first.

Sources must already exist in the registry (see 'quarry source add').`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnqueue(cmd, args)
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueServer, "server", defaultServerURL, "base URL of a running quarry server")
	enqueueCmd.Flags().IntVar(&enqueueHint, "batch-size", 5, "maximum items per batch")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, sourceIDs []string) error {
	client := newAPIClient(enqueueServer)

	res, err := client.enqueue(cmd.Context(), sourceIDs, enqueueHint)
	if err != nil {
		return err
	}

	fmt.Printf("Enqueued %d item(s) in %d batch(es)\n", res.ItemCount, len(res.BatchIDs))
	for _, id := range res.BatchIDs {
		fmt.Printf("  batch %s\n", id)
	}
	fmt.Println()
	fmt.Printf("Track progress with: quarry status %s\n", res.BatchID)
	return nil
}
