package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arborist/branchmerge/locker"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect resource locks",
}

var lockStatusCmd = &cobra.Command{
	Use:   "status <resource-id> <branch-id>",
	Short: "Report whether a resource (and its per-action locks) are held",
	Args:  cobra.ExactArgs(2),
	RunE:  runLockStatus,
}

func init() {
	lockCmd.AddCommand(lockStatusCmd)
	rootCmd.AddCommand(lockCmd)
}

func runLockStatus(cmd *cobra.Command, args []string) error {
	resourceID, branchID := args[0], args[1]

	_, l, _, err := dial()
	if err != nil {
		return err
	}

	ctx := context.Background()
	status := map[string]bool{}

	resourceErr := l.ValidateResourceUnlocked(ctx, resourceID, branchID, false)
	status["resource"] = resourceErr != nil

	for _, action := range []locker.Action{locker.ActionReorder, locker.ActionMerge, locker.ActionRecover} {
		actionErr := l.ValidateResourceActionUnlocked(ctx, action, resourceID, branchID, false)
		status[string(action)] = actionErr != nil
	}

	if jsonOut {
		printJSON(status)
		return nil
	}
	fmt.Printf("resource %s (branch %s):\n", resourceID, branchID)
	fmt.Printf("  resource-wide: %s\n", lockedLabel(status["resource"]))
	fmt.Printf("  reorder:       %s\n", lockedLabel(status[string(locker.ActionReorder)]))
	fmt.Printf("  merge:         %s\n", lockedLabel(status[string(locker.ActionMerge)]))
	fmt.Printf("  recover:       %s\n", lockedLabel(status[string(locker.ActionRecover)]))
	return nil
}

func lockedLabel(locked bool) string {
	if locked {
		return "locked"
	}
	return "free"
}
