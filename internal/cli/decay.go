package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run one relationship decay pass for the organization",
	Long: "Walks every contact memory in the organization and decays\n" +
		"relationship strength by how long the contact has been silent.\n" +
		"Meant to run from a daily scheduler.",
	RunE: runDecay,
}

func runDecay(cmd *cobra.Command, args []string) error {
	org, err := resolveOrg()
	if err != nil {
		return err
	}
	eng, cleanup, err := newEngine(false)
	if err != nil {
		return err
	}
	defer cleanup()

	res := eng.DecayContacts(context.Background(), org)
	fmt.Printf("Decay pass complete: %d contacts updated, %d skipped.\n", res.Updated, res.Skipped)
	return nil
}
