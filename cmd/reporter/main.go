// Command reporter fetches the Baden-Württemberg COVID-19 workbook, compares
// it with the previous day and sends the result to subscribed Telegram chats.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

const appName = "corona-report-bot"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reporter",
		Short: "Daily COVID-19 report bot for Baden-Württemberg",
		Long: `reporter polls the social ministry's case workbook, stores the latest
observation and sends the day-over-day changes to every subscribed chat.

Configuration is read from the environment (TELEGRAM_TOKEN, DB_PATH,
POLL_INTERVAL, ...). Without a subcommand the long-running service starts.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}

	cmd.AddCommand(
		runCmd(),
		crawlCmd(),
		parseCmd(),
		subscribersCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler, the Telegram poller and the HTTP endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}
