package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/clodo/orchestrate/pkg/assess"
	"github.com/clodo/orchestrate/pkg/errdefs"
	"github.com/clodo/orchestrate/pkg/report"
	"github.com/clodo/orchestrate/pkg/types"
)

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Assess service capabilities before deploying",
	Long: `Assess discovers the service's deploy manifest, migrations, and
dependencies, verifies the API token, and reports capability gaps with a
confidence score. Blocked gaps make the service undeployable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.close()

		jsonOut, _ := cmd.Flags().GetBool("json")
		verbose, _ := cmd.Flags().GetBool("verbose")
		writeReport, _ := cmd.Flags().GetBool("report")
		forceRefresh, _ := cmd.Flags().GetBool("force-refresh")
		serviceType, _ := cmd.Flags().GetString("service-type")
		domain, _ := cmd.Flags().GetString("domain")
		envFlag, _ := cmd.Flags().GetString("environment")

		env := types.Environment(resolveEnvironment(envFlag))
		if !types.ValidEnvironment(env) {
			return errdefs.Validation("unknown environment %q", env)
		}

		inputs := assess.UserInputs{
			ServiceType: serviceType,
			Domain:      domain,
			Environment: env,
			APIToken:    rt.sessionToken(),
		}
		result, err := rt.engine.Assess(cmd.Context(), rt.cfg.ServicePath, inputs, assess.Options{
			ForceRefresh: forceRefresh,
		})
		if err != nil {
			return err
		}

		if jsonOut {
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
		} else {
			printAssessment(result)
			if verbose {
				printDiscovery(result)
			}
		}

		if writeReport {
			path, err := writeAssessmentReport(rt.cfg.ReportDir, result)
			if err != nil {
				return err
			}
			fmt.Printf("Report: %s\n", path)
		}

		if !result.Deployable() {
			return errdefs.Validation("deployment blocked by %d capability gap(s)", len(result.BlockedGaps()))
		}
		return nil
	},
}

func init() {
	assessCmd.Flags().Bool("json", false, "Emit the full assessment as JSON")
	assessCmd.Flags().Bool("verbose", false, "Print the full discovery detail")
	assessCmd.Flags().Bool("report", false, "Write the assessment to the report directory")
	assessCmd.Flags().Bool("force-refresh", false, "Bypass the assessment cache")
	assessCmd.Flags().String("service-type", "", "Declare the service type instead of inferring it")
	assessCmd.Flags().String("domain", "", "Target domain for ownership and DNS probes")
	assessCmd.Flags().String("environment", "", "Target environment (development, staging, production)")
}

func printAssessment(a *assess.CapabilityAssessment) {
	fmt.Printf("Service:     %s (%s)\n", a.ServicePath, a.ServiceType)
	fmt.Printf("Environment: %s\n", a.Environment)
	fmt.Printf("Confidence:  %d/100\n", a.Confidence)
	if a.Token != nil {
		if a.Token.Valid {
			fmt.Printf("Token:       valid (%d permissions)\n", len(a.Token.Permissions))
		} else {
			fmt.Printf("Token:       invalid: %s\n", a.Token.Error)
		}
	}
	if len(a.Gaps) == 0 {
		fmt.Println("\nNo capability gaps. Ready to deploy.")
		return
	}
	fmt.Printf("\nGaps (%d):\n", len(a.Gaps))
	for _, gap := range a.Gaps {
		marker := " "
		if !gap.Deployable {
			marker = "!"
		}
		fmt.Printf("  %s [%-7s] %-15s %s\n", marker, gap.Priority, gap.Capability, gap.Reason)
	}
	if len(a.Recommendations) > 0 {
		fmt.Println("\nRecommendations:")
		for _, rec := range a.Recommendations {
			fmt.Printf("  - %s\n", rec)
		}
	}
}

func printDiscovery(a *assess.CapabilityAssessment) {
	d := a.Discovery
	if d == nil {
		return
	}
	fmt.Println("\nDiscovery:")
	fmt.Printf("  Inferred type: %s\n", d.InferredType)
	if d.DeployManifest != nil {
		fmt.Printf("  Deploy config: name=%s main=%s\n", d.DeployManifest.Name, d.DeployManifest.Main)
	}
	if d.PackageName != "" {
		fmt.Printf("  Package:       %s (%d dependencies)\n", d.PackageName, len(d.Dependencies))
	}
	if d.HasMigrations {
		fmt.Printf("  Migrations:    %s\n", d.MigrationsDir)
	}
	if len(d.Capabilities) > 0 {
		fmt.Println("  Capabilities:")
		caps := make([]string, 0, len(d.Capabilities))
		for cap := range d.Capabilities {
			caps = append(caps, string(cap))
		}
		sort.Strings(caps)
		for _, cap := range caps {
			fmt.Printf("    %-16s %s\n", cap, d.Capabilities[types.Capability(cap)])
		}
	}
}

// writeAssessmentReport persists the assessment as a timestamped JSON
// artifact under the report directory.
func writeAssessmentReport(dir string, a *assess.CapabilityAssessment) (string, error) {
	if dir == "" {
		dir = report.DefaultDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "assessment-"+a.AssessedAt.Format("20060102T150405Z")+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write assessment report: %w", err)
	}
	return path, nil
}
