package main

import (
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "followupd",
	Short: "Recurring follow-up generator",
	Long: `followupd materializes follow-ups from recurrence rules and delivers them
through http, telegram, redis or log channels. Configuration is read from the
environment and an optional .env file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generatorCmd)
	rootCmd.AddCommand(runCmd)
}
