package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipewise/dealmem/internal/engine"
)

var (
	extractDeal       string
	extractSourceID   string
	extractSourceType string
	extractOccurred   string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract deal events from one interaction",
	Long: "Runs the extraction passes for a single interaction already indexed\n" +
		"by the retrieval service, and stores the surviving events.",
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractDeal, "deal", "", "Deal id (required)")
	extractCmd.Flags().StringVar(&extractSourceID, "source", "", "Source interaction id, e.g. a meeting or thread id")
	extractCmd.Flags().StringVar(&extractSourceType, "source-type", "transcript", "Source type: transcript, email, crm_update, manual")
	extractCmd.Flags().StringVar(&extractOccurred, "occurred-at", "", "Interaction time, RFC 3339 (default now)")
	extractCmd.MarkFlagRequired("deal")
}

func runExtract(cmd *cobra.Command, args []string) error {
	org, err := resolveOrg()
	if err != nil {
		return err
	}

	var occurred time.Time
	if extractOccurred != "" {
		occurred, err = time.Parse(time.RFC3339, extractOccurred)
		if err != nil {
			return fmt.Errorf("parse --occurred-at: %w", err)
		}
	}

	eng, cleanup, err := newEngine(true)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	events, err := eng.ExtractInteraction(ctx, engine.ExtractionInput{
		DealID:     extractDeal,
		OrgID:      org,
		SourceID:   extractSourceID,
		SourceType: extractSourceType,
		OccurredAt: occurred,
	})
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Println("No events extracted.")
		return nil
	}

	fmt.Printf("Extracted %d events:\n\n", len(events))
	for i, ev := range events {
		fmt.Printf("%d. [%s] %s\n", i+1, ev.EventType, ev.Summary)
		fmt.Printf("   confidence %.2f, salience %s", ev.Confidence, ev.Salience)
		if len(ev.ContactIDs) > 0 {
			fmt.Printf(", contacts: %s", strings.Join(ev.ContactIDs, ", "))
		}
		fmt.Println()
	}
	return nil
}
