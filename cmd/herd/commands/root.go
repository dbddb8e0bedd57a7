package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	manifestPath string
	verbose      bool
	jsonOutput   bool
	dbPath       string
	policyPaths  []string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "herd",
		Short: "StackHerd - Multi-Unit Deployment Orchestrator",
		Long: `StackHerd orchestrates deployments spanning multiple infrastructure stacks
with dependency ordering, bounded parallelism, retry recovery, and rollback.

Features:
  - YAML manifests describing units and their dependencies
  - Dependency resolution into parallel execution levels
  - Per-unit retry with exponential backoff and error classification
  - Reverse-order rollback of successful units on failure
  - OPA policy gate before any unit executes
  - Run history persisted to SQLite`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "config", "c", "stackherd.yaml", "deployment manifest path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", ".stackherd/runs.db", "run history database path")
	rootCmd.PersistentFlags().StringArrayVar(&policyPaths, "policy", nil, "additional policy file or directory (repeatable)")

	// Add subcommands
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newPreviewCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
