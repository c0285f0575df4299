package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clodo/orchestrate/pkg/errdefs"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove terminated deployments older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.close()

		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return errdefs.Validation("--older-than must be positive")
		}
		removed, err := rt.store.Clean(olderThan)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d deployment(s) older than %s.\n", removed, olderThan)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the state store as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.close()

		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			return rt.store.Export(os.Stdout)
		}
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		defer f.Close()
		if err := rt.store.Export(f); err != nil {
			return err
		}
		fmt.Printf("Exported state to %s.\n", output)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a state store snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.close()

		input, _ := cmd.Flags().GetString("input")
		if input == "" {
			return errdefs.Validation("--input is required")
		}
		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("failed to open snapshot: %w", err)
		}
		defer f.Close()
		if err := rt.store.Import(f); err != nil {
			return err
		}
		fmt.Printf("Imported state from %s.\n", input)
		return nil
	},
}

var tokensCmd = &cobra.Command{
	Use:   "tokens <service>",
	Short: "List stored token metadata for a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.close()

		records := rt.tokens.ListTokens(args[0])
		if len(records) == 0 {
			fmt.Println("No tokens stored.")
			return nil
		}
		for _, r := range records {
			expires := "never"
			if !r.Expires.IsZero() {
				expires = r.Expires.UTC().Format(time.RFC3339)
			}
			fmt.Printf("  %s  created %s  expires %s  perms %v\n",
				r.Fingerprint, r.Created.UTC().Format(time.RFC3339), expires, r.Permissions)
		}
		return nil
	},
}

func init() {
	cleanCmd.Flags().Duration("older-than", 30*24*time.Hour, "Age cutoff for terminated deployments")
	exportCmd.Flags().String("output", "", "Write the snapshot to a file instead of stdout")
	importCmd.Flags().String("input", "", "Snapshot file to import")
}
