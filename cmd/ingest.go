package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Runs one incremental ingestion and outputs the run result as JSON",
	Long: `Fetches the pull requests updated since each repository's last successful
sync, stores them, and advances the cursor of every repository that succeeded.
Repositories that fail are listed in the result and retried on the next run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.auditor.RunIngestion(cmd.Context())
		if err != nil {
			return fmt.Errorf("ingestion failed: %w", err)
		}
		if err := printJSON(cmd, result); err != nil {
			return err
		}

		failOnErrors, _ := cmd.Flags().GetBool("fail-on-errors")
		if failOnErrors && result.ErrorCount > 0 {
			return fmt.Errorf("%d repositories failed to sync", result.ErrorCount)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().Bool("fail-on-errors", false, "Exit non-zero when any repository failed")
}
