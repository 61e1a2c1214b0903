package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipewise/dealmem/internal/store"
)

var (
	eventsDeal      string
	eventsCategory  string
	eventsType      string
	eventsSinceDays int
	eventsLimit     int
	eventsAll       bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List stored deal events",
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().StringVar(&eventsDeal, "deal", "", "Deal id (required)")
	eventsCmd.Flags().StringVarP(&eventsCategory, "category", "c", "", "Filter by category")
	eventsCmd.Flags().StringVarP(&eventsType, "type", "t", "", "Filter by event type")
	eventsCmd.Flags().IntVar(&eventsSinceDays, "since-days", 0, "Only events from the trailing N days")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 50, "Maximum number of events")
	eventsCmd.Flags().BoolVar(&eventsAll, "all", false, "Include superseded events")
	eventsCmd.MarkFlagRequired("deal")
}

func runEvents(cmd *cobra.Command, args []string) error {
	org, err := resolveOrg()
	if err != nil {
		return err
	}

	eng, cleanup, err := newEngine(false)
	if err != nil {
		return err
	}
	defer cleanup()

	filter := store.EventFilter{
		OrgID:      org,
		DealID:     eventsDeal,
		ActiveOnly: !eventsAll,
		Limit:      eventsLimit,
	}
	if eventsCategory != "" {
		filter.Categories = []string{eventsCategory}
	}
	if eventsType != "" {
		filter.Types = []string{eventsType}
	}
	if eventsSinceDays > 0 {
		filter.Since = time.Now().AddDate(0, 0, -eventsSinceDays).UnixMilli()
	}

	events, err := eng.GetEvents(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("No events found.")
		return nil
	}

	for _, ev := range events {
		fmt.Printf("%s  %-24s %s\n",
			millisTime(ev.SourceTimestamp).Format("2006-01-02"), ev.EventType, ev.Summary)
		fmt.Printf("            id %s, confidence %.2f, salience %s\n",
			ev.ID, ev.Confidence, ev.Salience)
		if ev.SupersededBy != nil {
			fmt.Printf("            superseded by %s\n", *ev.SupersededBy)
		}
	}
	return nil
}
