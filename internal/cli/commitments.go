package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pipewise/dealmem/internal/store"
)

var (
	commitmentsDeal string
	fulfillMethod   string
)

var commitmentsCmd = &cobra.Command{
	Use:   "commitments",
	Short: "Inspect and settle deal commitments",
}

var commitmentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open commitments for a deal",
	RunE:  runCommitmentsList,
}

var commitmentsOverdueCmd = &cobra.Command{
	Use:   "overdue",
	Short: "List open commitments past their deadline",
	RunE:  runCommitmentsOverdue,
}

var commitmentsFulfillCmd = &cobra.Command{
	Use:   "fulfill <event-id>",
	Short: "Mark a commitment kept",
	Args:  cobra.ExactArgs(1),
	RunE:  runCommitmentsFulfill,
}

var commitmentsBreakCmd = &cobra.Command{
	Use:   "break <event-id>",
	Short: "Mark a commitment missed and raise the risk flag",
	Args:  cobra.ExactArgs(1),
	RunE:  runCommitmentsBreak,
}

func init() {
	commitmentsListCmd.Flags().StringVar(&commitmentsDeal, "deal", "", "Deal id (required)")
	commitmentsListCmd.MarkFlagRequired("deal")
	commitmentsOverdueCmd.Flags().StringVar(&commitmentsDeal, "deal", "", "Deal id (required)")
	commitmentsOverdueCmd.MarkFlagRequired("deal")
	commitmentsFulfillCmd.Flags().StringVar(&fulfillMethod, "method", "", "How fulfillment was observed: stated, document, crm, inferred")

	commitmentsCmd.AddCommand(commitmentsListCmd)
	commitmentsCmd.AddCommand(commitmentsOverdueCmd)
	commitmentsCmd.AddCommand(commitmentsFulfillCmd)
	commitmentsCmd.AddCommand(commitmentsBreakCmd)
}

func runCommitmentsList(cmd *cobra.Command, args []string) error {
	org, err := resolveOrg()
	if err != nil {
		return err
	}
	eng, cleanup, err := newEngine(false)
	if err != nil {
		return err
	}
	defer cleanup()

	open, err := eng.GetOpenCommitments(context.Background(), commitmentsDeal, org)
	if err != nil {
		return fmt.Errorf("list commitments: %w", err)
	}
	printCommitments(open, "No open commitments.")
	return nil
}

func runCommitmentsOverdue(cmd *cobra.Command, args []string) error {
	org, err := resolveOrg()
	if err != nil {
		return err
	}
	eng, cleanup, err := newEngine(false)
	if err != nil {
		return err
	}
	defer cleanup()

	late, err := eng.GetOverdueCommitments(context.Background(), commitmentsDeal, org)
	if err != nil {
		return fmt.Errorf("list overdue commitments: %w", err)
	}
	printCommitments(late, "Nothing overdue.")
	return nil
}

func runCommitmentsFulfill(cmd *cobra.Command, args []string) error {
	org, err := resolveOrg()
	if err != nil {
		return err
	}
	eng, cleanup, err := newEngine(false)
	if err != nil {
		return err
	}
	defer cleanup()

	if !eng.FulfillCommitment(context.Background(), org, args[0], fulfillMethod) {
		return fmt.Errorf("commitment %s was not fulfilled; see the log for why", args[0])
	}
	fmt.Printf("Commitment %s marked fulfilled.\n", args[0])
	return nil
}

func runCommitmentsBreak(cmd *cobra.Command, args []string) error {
	org, err := resolveOrg()
	if err != nil {
		return err
	}
	eng, cleanup, err := newEngine(false)
	if err != nil {
		return err
	}
	defer cleanup()

	if !eng.BreakCommitment(context.Background(), org, args[0]) {
		return fmt.Errorf("commitment %s was not broken; see the log for why", args[0])
	}
	fmt.Printf("Commitment %s marked broken; a risk flag was raised.\n", args[0])
	return nil
}

func printCommitments(commitments []store.Commitment, emptyMsg string) {
	if len(commitments) == 0 {
		fmt.Println(emptyMsg)
		return
	}
	for _, c := range commitments {
		due := c.Deadline
		if due == "" {
			due = "open-ended"
		}
		fmt.Printf("[%s] %s (due %s)\n", c.Owner, c.Action, due)
		fmt.Printf("  id %s\n", c.EventID)
	}
}
