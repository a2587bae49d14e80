package main

import (
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	flagTestRunID  string
	flagAdminEmail string
	flagLimit      int
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show the stored results of a test run",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.results.GetTestResults(cmd.Context(), flagTestRunID)
		if err != nil {
			return fmt.Errorf("test run %s: %w", flagTestRunID, err)
		}
		out := cmd.OutOrStdout()
		if flagJSON {
			return writeJSON(out, res)
		}
		fmt.Fprintf(out, "Test run %s: %s (%d%%)\n", res.TestRunID, res.Status, res.PassingPercentage)
		renderResults(out, res.Results)
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List the recent test runs of an administrator",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		recent, err := a.results.GetRecentTestRuns(cmd.Context(), flagAdminEmail, flagLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if flagJSON {
			return writeJSON(out, recent)
		}
		tw := tablewriter.NewWriter(out)
		tw.SetHeader([]string{"TEST RUN", "TIMESTAMP", "VERSION", "COMPANY", "ADMIN"})
		for _, r := range recent.TestRuns {
			tw.Append([]string{r.TestRunID, r.Timestamp.Format(time.RFC3339), r.TechSpecVersion, r.CompanyName, r.AdminName})
		}
		tw.Render()
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pactctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "pactctl", version)
	},
}

func init() {
	resultsCmd.Flags().StringVar(&flagTestRunID, "test-run-id", "", "Test run id")
	_ = resultsCmd.MarkFlagRequired("test-run-id")
	runsCmd.Flags().StringVar(&flagAdminEmail, "admin-email", "", "Administrator email")
	runsCmd.Flags().IntVar(&flagLimit, "limit", 0, "Max runs (0 uses the configured default)")
	_ = runsCmd.MarkFlagRequired("admin-email")
}
