package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clodo/orchestrate/pkg/errdefs"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback [deployment-id]",
	Short: "Roll back a deployment's registered actions",
	Long: `Rollback replays the deployment's registered rollback actions in
reverse registration order. Already-executed actions are skipped, so
rolling back twice is a no-op. Failing inverses are recorded and never
block the remaining actions.

With --to-version, the current deployment of the target's domain is
rolled back and the current marker is restored to the named past
deployment.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.close()

		toVersion, _ := cmd.Flags().GetString("to-version")
		list, _ := cmd.Flags().GetBool("list")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if toVersion != "" {
			if len(args) > 0 {
				return errdefs.Validation("--to-version and a deployment-id argument are mutually exclusive")
			}
			result, err := rt.orch.RollbackTo(cmd.Context(), toVersion)
			if err != nil {
				return err
			}
			fmt.Printf("Restored %s: %d executed, %d failed, %d skipped\n",
				toVersion, result.Executed, result.Failed, result.Skipped)
			if result.Partial {
				return fmt.Errorf("%w: %s", errPartialRollback, toVersion)
			}
			return nil
		}

		if len(args) == 0 {
			return errdefs.Validation("a deployment-id argument or --to-version is required")
		}
		deploymentID := args[0]

		if list || dryRun {
			actions, err := rt.rb.Plan(deploymentID)
			if err != nil {
				return err
			}
			if len(actions) == 0 {
				fmt.Println("No rollback actions registered.")
				return nil
			}
			fmt.Printf("Rollback plan for %s (%d actions, executed in this order):\n", deploymentID, len(actions))
			for _, a := range actions {
				state := "pending"
				if a.Executed {
					state = "executed"
					if a.Error != "" {
						state = "failed"
					}
				}
				fmt.Printf("  %2d  %-26s %-30s %s\n", a.Index, a.Kind, a.Target, state)
			}
			return nil
		}

		result, err := rt.orch.Rollback(cmd.Context(), deploymentID)
		if err != nil {
			return err
		}
		fmt.Printf("Rollback of %s: %d executed, %d failed, %d skipped\n",
			deploymentID, result.Executed, result.Failed, result.Skipped)
		for _, a := range result.Actions {
			switch {
			case a.Skipped:
				fmt.Printf("  %2d  %-26s %-30s skipped\n", a.Index, a.Kind, a.Target)
			case a.Error != "":
				fmt.Printf("  %2d  %-26s %-30s FAILED: %s\n", a.Index, a.Kind, a.Target, a.Error)
			default:
				fmt.Printf("  %2d  %-26s %-30s ok\n", a.Index, a.Kind, a.Target)
			}
		}
		if result.Partial {
			return fmt.Errorf("%w: %s", errPartialRollback, deploymentID)
		}
		return nil
	},
}

func init() {
	rollbackCmd.Flags().Bool("list", false, "List registered actions without executing")
	rollbackCmd.Flags().Bool("dry-run", false, "Alias for --list")
	rollbackCmd.Flags().String("to-version", "", "Restore a past successful deployment by id")
}
