package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version info (set by ldflags)
	version = "dev"

	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ticketwatch",
		Short: "Ticket availability watcher with a Telegram status board",
		Long: `ticketwatch polls ticketing sites on a schedule, keeps a rolling history per
site, raises alerts on sharp availability drops and keeps an edited-in-place
report in a Telegram chat.

  ticketwatch run      Run the watcher in the foreground
  ticketwatch check    Run one cycle against a recording channel and print the report`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./config.json", "config file path (json or yaml)")

	rootCmd.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "ticketwatch", version)
		},
	}
}
