package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/stackherd/stackherd/pkg/engine"
)

func newDeployCommand() *cobra.Command {
	flags := &orchestrationFlags{}

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy all units in dependency order",
		Long: `Deploy every unit in the manifest.

This command:
  - Loads and validates the manifest
  - Evaluates policies against the unit set
  - Resolves dependencies into parallel execution levels
  - Validates credentials once per distinct credential
  - Applies each unit with retry recovery
  - Optionally rolls back successful units on failure`,
		Example: `  # Deploy with defaults
  herd deploy

  # Deploy sequentially with rollback on failure
  herd deploy --parallel=false --rollback-on-failure

  # Preview without changing anything
  herd deploy --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrchestration(cmd.Context(), engine.OperationApply, flags)
		},
	}

	addOrchestrationFlags(cmd, flags)
	addMetricsFlag(cmd, flags)
	cmd.Flags().BoolVar(&flags.rollbackOnFailure, "rollback-on-failure", false, "destroy successful units when a group fails")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "preview each unit instead of applying")
	cmd.Flags().BoolVar(&flags.refresh, "refresh", false, "refresh unit state before each apply")

	return cmd
}

// addOrchestrationFlags registers the execution flags shared by deploy,
// destroy, and preview.
func addOrchestrationFlags(cmd *cobra.Command, flags *orchestrationFlags) {
	cmd.Flags().BoolVar(&flags.parallel, "parallel", true, "execute units within a level concurrently")
	cmd.Flags().IntVar(&flags.maxParallel, "max-parallel", 0, "max concurrent units per level (0 = unbounded)")
	cmd.Flags().BoolVar(&flags.continueOnFailure, "continue-on-failure", true, "proceed to later levels after failures")
	cmd.Flags().StringVar(&flags.strategy, "strategy", "retry", "recovery strategy (retry, fail_fast, continue)")
	cmd.Flags().IntVar(&flags.maxRetries, "max-retries", 3, "max retries per unit")
	cmd.Flags().DurationVar(&flags.retryDelay, "retry-delay", time.Second, "initial retry delay")
}

// addMetricsFlag registers the metrics listener flag. Kept off the watch
// command, which would rebind the address on every re-preview.
func addMetricsFlag(cmd *cobra.Command, flags *orchestrationFlags) {
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}
