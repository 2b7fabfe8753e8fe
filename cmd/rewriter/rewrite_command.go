package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ineyio/rewriter"
)

func newRewriteCommand(ctx *commandContext) *cobra.Command {
	var (
		style    string
		language string
	)

	cmd := &cobra.Command{
		Use:   "rewrite [text]",
		Short: "Rewrite one text (reads stdin when no text or - is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			if strings.TrimSpace(input) == "" {
				return fmt.Errorf("no text to rewrite")
			}

			res, err := ctx.rewriter.Rewrite(cmd.Context(), rewriter.Request{
				Text:     input,
				Style:    style,
				Language: language,
			})
			if err != nil {
				return err
			}

			ctx.logger.Info("rewrite complete",
				"credential", res.Routing.Credential,
				"model", res.Routing.Model,
				"attempts", res.Routing.Attempts,
				"eligible", res.Routing.Eligible,
				"pool_size", res.Routing.PoolSize,
				"input_chars", len(input),
				"output_chars", len(res.Text))

			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return nil
		},
	}

	cmd.Flags().StringVarP(&style, "style", "s", "casual", "Rewrite style")
	cmd.Flags().StringVarP(&language, "lang", "l", "en", "Target language code (en, es, fr, ...)")
	return cmd
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}
