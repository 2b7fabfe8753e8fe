package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newUsageCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show today's per-key usage and quarantine state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.rewriter.Status(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(st.Credentials))
			eligible := 0
			for _, cs := range st.Credentials {
				if cs.Eligible {
					eligible++
				}
				rows = append(rows, []string{
					cs.Credential.Redacted(),
					fmt.Sprintf("%d/%s", cs.Count, limitString(st.DailyLimit)),
					fmt.Sprintf("%d/%s", cs.MinuteCount, limitString(st.MinuteLimit)),
					yesNo(cs.Quarantined),
					yesNo(cs.Eligible),
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Day %s: %d of %d keys eligible\n", st.Day, eligible, len(st.Credentials))
			fmt.Fprintln(out, renderTable(
				[]string{"Key", "Today", "Minute", "Quarantined", "Eligible"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func limitString(limit int) string {
	if limit <= 0 {
		return "∞"
	}
	return strconv.Itoa(limit)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
