package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/pr-audit/internal/usecase"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Outputs reports over the stored pull requests as JSON",
}

var openPRsCmd = &cobra.Command{
	Use:   "open-prs",
	Short: "Lists open pull requests by age, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		repository, _ := cmd.Flags().GetString("repository")
		olderThanDays, _ := cmd.Flags().GetInt("older-than-days")
		report, err := a.auditor.OpenPRReport(cmd.Context(), repository, olderThanDays)
		if err != nil {
			return fmt.Errorf("failed to build open PR report: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d open pull requests, median age %.1f days\n", len(report), usecase.MedianAgeDays(report))
		return printJSON(cmd, report)
	},
}

var userStatsCmd = &cobra.Command{
	Use:   "user-stats",
	Short: "Counts authored, merged, reviewed and approved pull requests per user",
	RunE: windowReport(func(cmd *cobra.Command, a *app, from, to time.Time) (any, error) {
		return a.auditor.UserStats(cmd.Context(), from, to)
	}),
}

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Summarises pull request states and unapproved merges",
	RunE: windowReport(func(cmd *cobra.Command, a *app, from, to time.Time) (any, error) {
		return a.auditor.ReleaseAuditSummary(cmd.Context(), from, to)
	}),
}

var repositoriesCmd = &cobra.Command{
	Use:   "repositories",
	Short: "Breaks pull request activity down per repository",
	RunE: windowReport(func(cmd *cobra.Command, a *app, from, to time.Time) (any, error) {
		return a.auditor.RepositoryReport(cmd.Context(), from, to)
	}),
}

// windowReport adapts a report over [from, to] into a command.
func windowReport(build func(cmd *cobra.Command, a *app, from, to time.Time) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		from, to, err := parseWindow(cmd, time.Now())
		if err != nil {
			return err
		}
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := build(cmd, a, from, to)
		if err != nil {
			return fmt.Errorf("failed to build %s report: %w", cmd.Name(), err)
		}
		return printJSON(cmd, result)
	}
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(openPRsCmd, userStatsCmd, releaseCmd, repositoriesCmd)

	openPRsCmd.Flags().StringP("repository", "r", "", "Only this repository (owner/name)")
	openPRsCmd.Flags().Int("older-than-days", 0, "Only pull requests at least this many days old")

	for _, c := range []*cobra.Command{userStatsCmd, releaseCmd, repositoriesCmd} {
		c.Flags().String("from", "", "Start of the window (YYYY/MM/DD or RFC 3339, default 30 days before --to)")
		c.Flags().String("to", "", "End of the window (YYYY/MM/DD or RFC 3339, default now)")
	}
}
