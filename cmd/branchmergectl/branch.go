package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Inspect a branch's recorded state",
}

var branchShowConflictCmd = &cobra.Command{
	Use:   "show-conflict <branch-id>",
	Short: "Print the conflict set recorded on a branch, if any",
	Args:  cobra.ExactArgs(1),
	RunE:  runBranchShowConflict,
}

func init() {
	branchCmd.AddCommand(branchShowConflictCmd)
	rootCmd.AddCommand(branchCmd)
}

func runBranchShowConflict(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid branch id %q: %w", args[0], err)
	}

	st, _, _, err := dial()
	if err != nil {
		return err
	}

	b, err := st.GetBranch(context.Background(), id)
	if err != nil {
		return fmt.Errorf("load branch %s: %w", id, err)
	}

	if b.Conflict == nil || b.Conflict.Empty() {
		if jsonOut {
			printJSON(map[string]bool{"blocked": false})
			return nil
		}
		fmt.Println("no conflict recorded; branch is clear to merge")
		return nil
	}

	if jsonOut {
		printJSON(b.Conflict)
		return nil
	}

	c := b.Conflict
	fmt.Printf("branch %s is blocked:\n", id)
	fmt.Printf("  deleted ancestors:        %d\n", c.DeletedAncestors.Len())
	fmt.Printf("  deleted+edited nodes:     %d\n", c.DeletedEditedNodes.Len())
	fmt.Printf("  deleted+edited flows:     %d\n", c.DeletedEditedFlows.Len())
	fmt.Printf("  deleted+edited flowsteps: %d\n", c.DeletedEditedFlowSteps.Len())
	fmt.Printf("  deleted+edited ios:       %d\n", c.DeletedEditedIos.Len())
	fmt.Printf("  conflicting flowsteps:    %d\n", c.ConflictingFlowSteps.Len())
	return nil
}
