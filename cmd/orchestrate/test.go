package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clodo/orchestrate/pkg/errdefs"
	"github.com/clodo/orchestrate/pkg/health"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run production test suites against a deployed domain",
	Long: `Test runs the production suites (api, auth, performance, db, load)
against a live domain and persists a JSON report plus a metrics summary
keyed by timestamp under the report directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.close()

		domain, _ := cmd.Flags().GetString("domain")
		suites, _ := cmd.Flags().GetStringSlice("suite")
		if domain == "" {
			return errdefs.Validation("--domain is required")
		}

		tester := health.NewProductionTester(rt.cfg.ReportDir)
		target := health.Target{
			Domain:  domain,
			Budgets: health.DefaultBudgets(),
		}

		report, err := tester.Run(cmd.Context(), target, suites...)
		if err != nil {
			return err
		}

		fmt.Printf("Production tests for %s: %d passed, %d failed\n",
			domain, report.TotalPassed, report.TotalFailed)
		for _, suite := range report.Suites {
			fmt.Printf("  %-12s %d passed, %d failed\n", suite.Suite, suite.Passed, suite.Failed)
			for _, check := range suite.Checks {
				if !check.Passed {
					fmt.Printf("    FAILED %s: %s\n", check.Name, check.Message)
				}
			}
		}
		if report.TotalFailed > 0 {
			return fmt.Errorf("%d production check(s) failed", report.TotalFailed)
		}
		return nil
	},
}

func init() {
	testCmd.Flags().String("domain", "", "Domain to test")
	testCmd.Flags().StringSlice("suite", nil, "Suites to run (default: all registered)")
}
