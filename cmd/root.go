// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pr-audit",
	Short: "Audits pull request activity across GitHub repositories.",
	Long: `pr-audit incrementally ingests pull requests, reviews and events from a
data source into an audit store, and reports on open PR aging, per-user
activity, release hygiene and per-repository activity.
Run it once from the CLI or keep it running with "serve".`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Persistent flags are available to all commands.
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a config file (default ./pr-audit.{yaml,toml,json})")
}
