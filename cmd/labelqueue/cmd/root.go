package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "labelqueue",
	Short: "Multi-tenant human-labeling queue service",
	Long: `labelqueue assigns samples to human labelers, collects their judgments, computes
inter-rater agreement, and exports labeled datasets.

Subcommands:
  serve    run the HTTP API and background workers together
  worker   run only the background workers (timeout sweep, agreement recompute, retention)
  migrate  apply or inspect the Postgres schema`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (defaults to environment variables)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
}
