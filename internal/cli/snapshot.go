package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipewise/dealmem/internal/engine"
	"github.com/pipewise/dealmem/internal/store"
)

var (
	snapshotDeal     string
	snapshotOnDemand bool
	snapshotStage    bool
	snapshotCheck    bool
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Regenerate a deal snapshot when the trigger policy calls for it",
	RunE:  runSnapshot,
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotDeal, "deal", "", "Deal id (required)")
	snapshotCmd.Flags().BoolVar(&snapshotOnDemand, "on-demand", false, "Regenerate now regardless of the trigger policy")
	snapshotCmd.Flags().BoolVar(&snapshotStage, "stage-changed", false, "Regenerate because the deal changed stage")
	snapshotCmd.Flags().BoolVar(&snapshotCheck, "check", false, "Only report the trigger decision")
	snapshotCmd.MarkFlagRequired("deal")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	org, err := resolveOrg()
	if err != nil {
		return err
	}

	// The trigger check alone never calls the LLM.
	eng, cleanup, err := newEngine(!snapshotCheck)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	should, reason := eng.ShouldRegenerateSnapshot(ctx, snapshotDeal, org, engine.TriggerOptions{
		OnDemand:     snapshotOnDemand,
		StageChanged: snapshotStage,
	})
	if snapshotCheck {
		if should {
			fmt.Printf("Regeneration due (%s).\n", reason)
		} else {
			fmt.Println("Snapshot is current.")
		}
		return nil
	}
	if !should {
		fmt.Println("Snapshot is current; nothing to do.")
		return nil
	}

	snap, err := eng.GenerateSnapshot(ctx, snapshotDeal, org, reason)
	if err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("synthesis failed; the previous snapshot keeps serving")
	}
	printSnapshot(snap)
	return nil
}

func printSnapshot(s *store.Snapshot) {
	fmt.Printf("## Snapshot %s (%s)\n\n", s.ID, s.GeneratedBy)
	fmt.Println(s.Narrative)

	fmt.Println("\nKey facts:")
	fact := func(label, value string) {
		if value != "" {
			fmt.Printf("  %-14s %s\n", label, value)
		}
	}
	fact("close date", s.KeyFacts.CloseDate)
	fact("amount", s.KeyFacts.Amount)
	fact("stage", s.KeyFacts.Stage)
	fact("champion", s.KeyFacts.Champion)
	fact("blockers", strings.Join(s.KeyFacts.Blockers, "; "))
	fact("competitors", strings.Join(s.KeyFacts.Competitors, "; "))
	fmt.Printf("  %-14s %d\n", "open promises", s.KeyFacts.OpenCommitmentsCount)

	if len(s.StakeholderMap) > 0 {
		fmt.Println("\nStakeholders:")
		for _, st := range s.StakeholderMap {
			fmt.Printf("  %s\n", formatStakeholder(st))
		}
	}

	if s.RiskAssessment.OverallScore > 0 || len(s.RiskAssessment.Factors) > 0 {
		fmt.Printf("\nRisk score %.2f:\n", s.RiskAssessment.OverallScore)
		for _, f := range s.RiskAssessment.Factors {
			fmt.Printf("  [%s] %s\n", f.Severity, f.Description)
		}
	}

	fmt.Printf("\nCovers %d events through %s.\n",
		s.EventCount, millisTime(s.EventsIncludedThrough).Format("2006-01-02 15:04"))
}

func formatStakeholder(st store.Stakeholder) string {
	line := st.Name
	if st.Role != "" {
		line += " (" + st.Role + ")"
	}
	var notes []string
	if st.Influence != "" {
		notes = append(notes, st.Influence+" influence")
	}
	if st.Disposition != "" {
		notes = append(notes, st.Disposition)
	}
	if len(notes) > 0 {
		line += ": " + strings.Join(notes, ", ")
	}
	return line
}
