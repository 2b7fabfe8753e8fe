package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ineyio/rewriter"
)

func newPruneCommand(ctx *commandContext) *cobra.Command {
	var keepDays int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete usage and quarantine history older than --keep-days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ok := ctx.store.(pruner)
			if !ok {
				return fmt.Errorf("store backend %q does not support pruning", ctx.cfg.Store.Backend)
			}
			if keepDays < 1 {
				return fmt.Errorf("--keep-days must be at least 1")
			}

			loc, err := ctx.cfg.Location()
			if err != nil {
				return err
			}
			keepFrom := rewriter.DayOf(time.Now().AddDate(0, 0, -(keepDays-1)), loc)

			deleted, err := p.Prune(cmd.Context(), keepFrom)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d rows before %s\n", deleted, keepFrom)
			return nil
		},
	}

	cmd.Flags().IntVar(&keepDays, "keep-days", 7, "Days of history to keep, today included")
	return cmd
}
