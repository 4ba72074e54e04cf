package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	statusServer  string
	statusReview  bool
	statusRequeue string
)

var statusCmd = &cobra.Command{
	Use:   "status [batch-id]",
	Short: "Show batch progress or the review queue",
	Long: `Status reports crawl progress from a running quarry server.

With a batch ID, it prints per-status item counts for that batch. With
--review it lists items parked for manual review after exhausting their
retries; --requeue puts one of those items back in the queue.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd, args)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", defaultServerURL, "base URL of a running quarry server")
	statusCmd.Flags().BoolVar(&statusReview, "review", false, "list items parked for manual review")
	statusCmd.Flags().StringVar(&statusRequeue, "requeue", "", "requeue a review item by ID")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := newAPIClient(statusServer)
	ctx := cmd.Context()

	if statusRequeue != "" {
		itemID, err := uuid.Parse(statusRequeue)
		if err != nil {
			return fmt.Errorf("invalid item id %q: %w", statusRequeue, err)
		}
		if err := client.requeue(ctx, itemID); err != nil {
			return err
		}
		fmt.Printf("Item %s requeued\n", itemID)
		return nil
	}

	if statusReview {
		return printReviewList(cmd, client)
	}

	if len(args) != 1 {
		return fmt.Errorf("a batch ID is required (or use --review)")
	}
	batchID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid batch id %q: %w", args[0], err)
	}

	p, err := client.progress(ctx, batchID)
	if err != nil {
		return err
	}
	if p.Total == 0 {
		fmt.Printf("Batch %s has no items (unknown batch?)\n", batchID)
		return nil
	}

	fmt.Printf("Batch %s\n", p.BatchID)
	fmt.Printf("  queued:       %d\n", p.Queued)
	fmt.Printf("  in progress:  %d\n", p.InProgress)
	fmt.Printf("  completed:    %d\n", p.Completed)
	fmt.Printf("  needs review: %d\n", p.NeedsReview)
	fmt.Printf("  total:        %d\n", p.Total)
	if p.Done {
		fmt.Println("Done.")
	}
	return nil
}

func printReviewList(cmd *cobra.Command, client *apiClient) error {
	items, err := client.reviewList(cmd.Context())
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("No items need review.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tSOURCE\tATTEMPTS\tPARKED\tLAST ERROR")
	for _, it := range items {
		parked := ""
		if it.ParkedAt != nil {
			parked = it.ParkedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
			it.ItemID, it.SourceID, it.AttemptCount, it.MaxAttempts, parked, it.LastError)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("writing table: %w", err)
	}

	fmt.Println()
	fmt.Println("Requeue an item with: quarry status --requeue <item-id>")
	return nil
}
