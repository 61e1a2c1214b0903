package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipewise/dealmem/internal/engine"
)

var (
	contextDeal       string
	contextRAG        bool
	contextCategories []string
	contextLimit      int
	contextBudget     int
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Print the assembled working context for a deal",
	Long: "Assembles what an agent would read before touching the deal: the\n" +
		"latest snapshot, fresh events past its watermark, open commitments,\n" +
		"stakeholders, risks and contact memory.",
	RunE: runContext,
}

func init() {
	contextCmd.Flags().StringVar(&contextDeal, "deal", "", "Deal id (required)")
	contextCmd.Flags().BoolVar(&contextRAG, "rag", false, "Spend leftover token budget on retrieval depth questions")
	contextCmd.Flags().StringSliceVarP(&contextCategories, "category", "c", nil, "Only include these event categories")
	contextCmd.Flags().IntVarP(&contextLimit, "limit", "n", 0, "Maximum fresh events (default from config)")
	contextCmd.Flags().IntVar(&contextBudget, "budget", 0, "Token budget (default from config)")
	contextCmd.MarkFlagRequired("deal")
}

func runContext(cmd *cobra.Command, args []string) error {
	org, err := resolveOrg()
	if err != nil {
		return err
	}

	eng, cleanup, err := newEngine(false)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dc := eng.GetDealContext(ctx, contextDeal, org, engine.ContextOptions{
		Categories:      contextCategories,
		Limit:           contextLimit,
		IncludeRAGDepth: contextRAG,
		TokenBudget:     contextBudget,
	})

	if dc.Snapshot != nil {
		fmt.Printf("## Narrative (through %s)\n\n",
			millisTime(dc.Snapshot.EventsIncludedThrough).Format("2006-01-02"))
		fmt.Println(dc.Snapshot.Narrative)
		fmt.Println()
	}

	if len(dc.RecentEvents) > 0 {
		fmt.Println("## Recent events")
		for _, ev := range dc.RecentEvents {
			fmt.Printf("  %s  [%s] %s\n",
				millisTime(ev.SourceTimestamp).Format("2006-01-02"), ev.EventType, ev.Summary)
		}
		fmt.Println()
	}

	if len(dc.OpenCommitments) > 0 {
		fmt.Println("## Open commitments")
		for _, c := range dc.OpenCommitments {
			due := c.Deadline
			if due == "" {
				due = "open-ended"
			}
			fmt.Printf("  [%s] %s (due %s)\n", c.Owner, c.Action, due)
		}
		fmt.Println()
	}

	if len(dc.Stakeholders) > 0 {
		fmt.Println("## Stakeholders")
		for _, st := range dc.Stakeholders {
			fmt.Printf("  %s\n", formatStakeholder(st))
		}
		fmt.Println()
	}

	if len(dc.RiskFactors) > 0 {
		fmt.Println("## Risks")
		for _, r := range dc.RiskFactors {
			fmt.Printf("  [%s] %s\n", r.Severity, r.Description)
		}
		fmt.Println()
	}

	if len(dc.Contacts) > 0 {
		fmt.Println("## Contacts")
		for _, m := range dc.Contacts {
			last := "never"
			if m.LastInteractionAt != nil {
				last = millisTime(*m.LastInteractionAt).Format("2006-01-02")
			}
			fmt.Printf("  %-28s strength %.2f, %d meetings, last %s\n",
				m.ContactID, m.RelationshipStrength, m.TotalMeetings, last)
		}
		fmt.Println()
	}

	if len(dc.RAG) > 0 {
		fmt.Println("## Retrieved depth")
		for _, r := range dc.RAG {
			fmt.Printf("  Q: %s\n  A: %s\n\n", r.Question, r.Answer)
		}
	}

	fmt.Printf("%d events total, ~%d tokens", dc.Meta.TotalEventCount, dc.Meta.TokenEstimate)
	if dc.Meta.LastMeetingAt != nil {
		fmt.Printf(", last meeting %s", dc.Meta.LastMeetingAt.Format("2006-01-02"))
	}
	if dc.Meta.RetrievalCalls > 0 {
		fmt.Printf(", %d retrieval calls", dc.Meta.RetrievalCalls)
	}
	fmt.Println()
	return nil
}
