package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "panelctl",
		Short:         "Inspect panel stage windows",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.atFlag, "at", "", "Evaluate at this ISO-8601 instant instead of now")
	rootCmd.PersistentFlags().StringVar(&ctx.localeFlag, "locale", "", "Locale for deadline dates (default en-US)")
	rootCmd.PersistentFlags().BoolVar(&ctx.jsonFlag, "json", false, "Emit JSON instead of a table")
	rootCmd.PersistentFlags().StringVar(&ctx.upstreamFlag, "upstream", "", "Panel API base URL (default $UPSTREAM_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&ctx.tokenFlag, "token", "", "Bearer token for the panel API (default $UPSTREAM_TOKEN)")

	rootCmd.AddCommand(newStagesCommand(ctx))
	rootCmd.AddCommand(newFetchCommand(ctx))
	rootCmd.AddCommand(newCanCommand(ctx))
	rootCmd.AddCommand(newLocalesCommand())

	return rootCmd
}
