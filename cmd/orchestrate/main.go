package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clodo/orchestrate/pkg/errdefs"
	"github.com/clodo/orchestrate/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes. Anything uncategorized exits 1.
const (
	exitOK              = 0
	exitGeneric         = 1
	exitValidation      = 2
	exitCancelled       = 3
	exitQuota           = 4
	exitPartialRollback = 5
)

// errPartialRollback marks a run that left a domain partially rolled back
var errPartialRollback = errors.New("deployment partially rolled back")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
	os.Exit(exitOK)
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, errPartialRollback):
		return exitPartialRollback
	case errdefs.IsValidation(err), errdefs.IsPermission(err):
		return exitValidation
	case errdefs.IsCancelled(err):
		return exitCancelled
	case errdefs.IsQuota(err):
		return exitQuota
	default:
		return exitGeneric
	}
}

var rootCmd = &cobra.Command{
	Use:   "orchestrate",
	Short: "Orchestrate - multi-domain edge deployment orchestrator",
	Long: `Orchestrate assesses, deploys, and rolls back edge worker services
across a portfolio of domains. It coordinates workers, databases,
secrets, and DNS through rate-limited batches, with every mutation
paired to a registered rollback action.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		jsonOut, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{
			Level:      log.LevelFromEnv(),
			JSONOutput: jsonOut,
		})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Orchestrate version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "clodo-config.json", "Path to the orchestrator config file")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit structured JSON logs")

	rootCmd.AddCommand(assessCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(tokensCmd)
}
