package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := newCommandContext()

	rootCmd := &cobra.Command{
		Use:           "rewriter",
		Short:         "Rewrite text through a pool of rate-limited Gemini keys",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd == cmd.Root() {
				return nil
			}
			return ctx.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path (YAML)")
	flags.StringVar(&ctx.envFileFlag, "env-file", ".env", "Dotenv file holding GEMINI_API_KEY_N entries")
	flags.StringVar(&ctx.logFileFlag, "log-file", "", "Also write logs to this file, rotated")
	flags.BoolVarP(&ctx.verboseFlag, "verbose", "v", false, "Enable debug logging")
	flags.String("store", "", "State backend: json, sqlite, redis, postgres or memory")
	flags.String("store-dir", "", "Directory of the json state files")
	flags.String("provider", "", "Remote adapter: gemini, genai or openai")

	rootCmd.AddCommand(newRewriteCommand(ctx))
	rootCmd.AddCommand(newBatchCommand(ctx))
	rootCmd.AddCommand(newUsageCommand(ctx))
	rootCmd.AddCommand(newPruneCommand(ctx))

	return rootCmd
}
