package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/clodo/orchestrate/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show deployment history and current versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.close()

		detailed, _ := cmd.Flags().GetBool("detailed")
		jsonOut, _ := cmd.Flags().GetBool("json")
		domainFlag, _ := cmd.Flags().GetString("domain")

		var deployments []*types.Deployment
		if domainFlag != "" {
			deployments, err = rt.store.ListDeploymentsByDomain(domainFlag)
		} else {
			deployments, err = rt.store.ListDeployments()
		}
		if err != nil {
			return err
		}
		sort.Slice(deployments, func(i, j int) bool {
			return deployments[i].StartedAt.After(deployments[j].StartedAt)
		})

		if jsonOut {
			data, err := json.MarshalIndent(deployments, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(deployments) == 0 {
			fmt.Println("No deployments recorded.")
			return nil
		}

		fmt.Printf("%-42s %-25s %-12s %-22s %s\n", "DEPLOYMENT", "DOMAIN", "ENV", "STATUS", "STARTED")
		for _, d := range deployments {
			current := ""
			if id, err := rt.store.GetCurrent(d.Domain, d.Environment); err == nil && id == d.ID {
				current = " *"
			}
			fmt.Printf("%-42s %-25s %-12s %-22s %s%s\n",
				d.ID, d.Domain, d.Environment, d.Status,
				d.StartedAt.Local().Format(time.RFC3339), current)

			if detailed {
				for _, p := range d.Phases {
					line := fmt.Sprintf("    %-10s %-20s %s", p.Phase, p.Outcome, p.FinishedAt.Sub(p.StartedAt).Round(time.Millisecond))
					if p.Error != "" {
						line += "  " + p.Error
					}
					fmt.Println(line)
				}
			}
		}
		fmt.Println("\n* current version for its (domain, environment)")
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("detailed", false, "Include per-phase records")
	statusCmd.Flags().Bool("json", false, "Emit deployments as JSON")
	statusCmd.Flags().String("domain", "", "Restrict to one domain")
}
