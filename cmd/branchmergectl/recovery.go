package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arborist/branchmerge/internal/domain"
	"github.com/arborist/branchmerge/merge"
	"github.com/arborist/branchmerge/recovery"
	"github.com/arborist/branchmerge/reorder"
)

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Inspect and drive the saga recovery log",
}

var recoveryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recovery log entries older than --stale-after",
	RunE:  runRecoveryList,
}

var recoverySweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single recovery sweep pass immediately",
	RunE:  runRecoverySweep,
}

var recoveryStaleAfterFlag time.Duration

func init() {
	recoveryListCmd.Flags().DurationVar(&recoveryStaleAfterFlag, "stale-after", 0, "only list entries last updated before now minus this duration (default: the configured sweep threshold)")
	recoveryCmd.AddCommand(recoveryListCmd)
	recoveryCmd.AddCommand(recoverySweepCmd)
	rootCmd.AddCommand(recoveryCmd)
}

func runRecoveryList(cmd *cobra.Command, args []string) error {
	st, _, cfg, err := dial()
	if err != nil {
		return err
	}

	staleAfter := recoveryStaleAfterFlag
	if staleAfter <= 0 {
		staleAfter = cfg.RecoveryStaleAfter
	}

	log := recovery.NewLog(st)
	_ = log // entries are read directly off the store; Log only wraps writes.

	ctx := context.Background()
	cutoff := time.Now().Add(-staleAfter).UnixMilli()
	entries, err := st.StaleRecoveryEntries(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list recovery entries: %w", err)
	}

	if jsonOut {
		printJSON(entries)
		return nil
	}
	if len(entries) == 0 {
		fmt.Println("no stale recovery entries")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%-12s branch=%s id=%s step=%d updated=%s\n",
			e.ObjectType, e.BranchID, e.ID, e.Step, e.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func runRecoverySweep(cmd *cobra.Command, args []string) error {
	st, l, cfg, err := dial()
	if err != nil {
		return err
	}

	sweeper := recovery.NewSweeper(st, l, recovery.WithStaleAfter(cfg.RecoveryStaleAfter))
	sweeper.Register(domain.RecoveryReorder, reorder.New(st, l))
	sweeper.Register(domain.RecoveryMerge, merge.New(st, l, merge.WithReorderer(reorder.New(st, l))))

	sweeper.RunOnce(context.Background())
	fmt.Println("recovery sweep complete")
	return nil
}
