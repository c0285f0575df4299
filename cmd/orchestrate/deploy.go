package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clodo/orchestrate/pkg/assess"
	"github.com/clodo/orchestrate/pkg/errdefs"
	"github.com/clodo/orchestrate/pkg/orchestrator"
	"github.com/clodo/orchestrate/pkg/report"
	"github.com/clodo/orchestrate/pkg/router"
	"github.com/clodo/orchestrate/pkg/types"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the service to one or all portfolio domains",
	Long: `Deploy runs the validate/prepare/deploy/verify pipeline per domain,
in parallel batches with a barrier between batches. Every mutation
registers its rollback action first; a failed domain is rolled back in
reverse order and the remaining batches are aborted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.close()

		envFlag, _ := cmd.Flags().GetString("environment")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		noRollback, _ := cmd.Flags().GetBool("no-rollback")
		parallelism, _ := cmd.Flags().GetInt("parallelism")
		ignoreBlocked, _ := cmd.Flags().GetBool("ignore-blocked")
		domainFlag, _ := cmd.Flags().GetString("domain")
		all, _ := cmd.Flags().GetBool("all")
		writeReport, _ := cmd.Flags().GetBool("report")

		env := types.Environment(resolveEnvironment(envFlag))
		if !types.ValidEnvironment(env) {
			return errdefs.Validation("unknown environment %q", env)
		}
		if domainFlag == "" && !all {
			return errdefs.Validation("pick a target: --domain <name> or --all")
		}
		if domainFlag != "" && all {
			return errdefs.Validation("--domain and --all are mutually exclusive")
		}

		discovered, err := rt.router.Discover(cmd.Context())
		if err != nil {
			return err
		}
		mode, arg := router.SelectAll, ""
		if domainFlag != "" {
			mode, arg = router.SelectSpecific, domainFlag
		}
		domains, err := rt.router.Select(discovered, mode, arg, env)
		if err != nil {
			return err
		}

		assessment, err := rt.engine.Assess(cmd.Context(), rt.cfg.ServicePath, assess.UserInputs{
			Environment: env,
			APIToken:    rt.sessionToken(),
		}, assess.Options{})
		if err != nil {
			return err
		}
		if !assessment.Deployable() && !ignoreBlocked {
			return errdefs.Validation("deployment blocked: %s (use --ignore-blocked to override)",
				assessment.BlockedGaps()[0].Reason)
		}
		if !assessment.Deployable() && ignoreBlocked {
			assessmentWithoutBlocks(assessment)
		}

		opts := orchestrator.Options{
			Environment: env,
			Parallelism: parallelism,
			NoRollback:  noRollback,
			DryRun:      dryRun,
			Assessment:  assessment,
			User:        os.Getenv("USER"),
			Revision:    time.Now().UTC().Format("20060102T150405Z"),
		}

		result, err := rt.orch.Deploy(cmd.Context(), "portfolio", domains, opts)
		if err != nil {
			return err
		}
		printPortfolio(result)

		if writeReport {
			writer := report.NewWriter(rt.cfg.ReportDir, rt.store)
			for _, dr := range result.Results {
				if dr.DeploymentID == "" {
					continue
				}
				path, err := writer.Write(dr.DeploymentID, assessment)
				if err != nil {
					fmt.Fprintf(os.Stderr, "warning: report for %s: %v\n", dr.DeploymentID, err)
					continue
				}
				fmt.Printf("Report: %s\n", path)
			}
		}

		return portfolioError(result)
	},
}

func init() {
	deployCmd.Flags().String("environment", "", "Target environment (development, staging, production)")
	deployCmd.Flags().Bool("dry-run", false, "Run validation only, no mutations")
	deployCmd.Flags().Bool("no-rollback", false, "Leave failed deployments as-is for inspection")
	deployCmd.Flags().Int("parallelism", orchestrator.DefaultParallelism, "Domains deployed concurrently per batch")
	deployCmd.Flags().Bool("ignore-blocked", false, "Deploy despite blocked assessment gaps")
	deployCmd.Flags().String("domain", "", "Deploy a single domain")
	deployCmd.Flags().Bool("all", false, "Deploy every domain in the portfolio")
	deployCmd.Flags().Bool("report", false, "Write audit reports for each deployment")
}

// assessmentWithoutBlocks downgrades blocked gaps to warnings when the
// operator explicitly overrides them
func assessmentWithoutBlocks(a *assess.CapabilityAssessment) {
	for i := range a.Gaps {
		if !a.Gaps[i].Deployable {
			a.Gaps[i].Deployable = true
			a.Gaps[i].Priority = types.PriorityWarning
		}
	}
}

func printPortfolio(result *types.PortfolioResult) {
	fmt.Printf("\nPortfolio: %s (%s)\n", result.Status, result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	for _, dr := range result.Results {
		line := fmt.Sprintf("  %-30s %-22s %s", dr.Domain, dr.Status, dr.DeploymentID)
		if dr.Error != "" {
			line += fmt.Sprintf("  [%s: %s]", dr.FailedPhase, dr.Error)
		}
		fmt.Println(line)
	}
}

// portfolioError maps the aggregate result to the exit-code error chain
func portfolioError(result *types.PortfolioResult) error {
	if !result.Failed() && result.Status == types.DeploymentSucceeded {
		return nil
	}
	for _, dr := range result.Results {
		if dr.PartialRollback || dr.Status == types.DeploymentPartial {
			return fmt.Errorf("%w: %s", errPartialRollback, dr.Domain)
		}
	}
	for _, dr := range result.Results {
		if dr.Status != types.DeploymentSucceeded && dr.Error != "" {
			return fmt.Errorf("deployment of %s failed: %s", dr.Domain, dr.Error)
		}
	}
	return fmt.Errorf("portfolio deployment failed")
}
