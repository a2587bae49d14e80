package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/wbcsd/pact-conformance-test-service/internal/service"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
)

var runReq service.RunRequest

// errRunFailed makes the process exit non-zero after the report was printed.
var errRunFailed = errors.New("one or more mandatory tests failed")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the conformance catalog against a target system",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		resp, err := a.runs.Run(cmd.Context(), &runReq)
		if err != nil {
			var runErr *service.RunError
			if errors.As(err, &runErr) {
				return fmt.Errorf("test run %s aborted: %w", runErr.TestRunID, err)
			}
			return err
		}

		out := cmd.OutOrStdout()
		if flagJSON {
			if err := writeJSON(out, resp); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(out, "Test run %s: %s (%d%%)\n", resp.TestRunID, resp.Message, resp.PassingPercentage)
			renderResults(out, resp.Results)
		}
		if !resp.Passed {
			return errRunFailed
		}
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runReq.BaseURL, "base-url", "", "Base URL of the PACT API under test")
	f.StringVar(&runReq.ClientID, "client-id", "", "OAuth client id")
	f.StringVar(&runReq.ClientSecret, "client-secret", "", "OAuth client secret")
	f.StringVar(&runReq.Version, "version", "V2.3", "Technical specification version (V2.0, V2.1, V2.2, V2.3, V3.0)")
	f.StringVar(&runReq.CompanyName, "company-name", "", "Company running the test")
	f.StringVar(&runReq.CompanyIdentifier, "company-identifier", "", "Identifier of the company")
	f.StringVar(&runReq.AdminEmail, "admin-email", "", "Email of the responsible administrator")
	f.StringVar(&runReq.AdminName, "admin-name", "", "Name of the responsible administrator")
	f.StringVar(&runReq.CustomAuthBaseURL, "auth-base-url", "", "Auth base URL when it differs from the API base URL")
	for _, name := range []string{"base-url", "client-id", "client-secret", "company-name", "company-identifier", "admin-email", "admin-name"} {
		_ = runCmd.MarkFlagRequired(name)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderResults(w io.Writer, results []testcase.Result) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"KEY", "NAME", "STATUS", "MANDATORY", "ERROR"})
	tw.SetAutoWrapText(false)
	for _, r := range results {
		tw.Append([]string{r.TestKey, r.Name, string(r.Status), strconv.FormatBool(r.Mandatory), firstLine(r.ErrorMessage, 80)})
	}
	tw.Render()
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > max {
		s = string(r[:max-3]) + "..."
	}
	return s
}

