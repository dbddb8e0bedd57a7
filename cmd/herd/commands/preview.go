package commands

import (
	"github.com/spf13/cobra"

	"github.com/stackherd/stackherd/pkg/engine"
)

func newPreviewCommand() *cobra.Command {
	flags := &orchestrationFlags{}

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview pending changes for all units",
		Long: `Preview the changes each unit would make without applying them.

Units are previewed in dependency order with the same grouping and
pre-flight validation a deploy would use.`,
		Example: `  # Preview all units
  herd preview

  # Preview with JSON output
  herd preview --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrchestration(cmd.Context(), engine.OperationPreview, flags)
		},
	}

	addOrchestrationFlags(cmd, flags)
	addMetricsFlag(cmd, flags)

	return cmd
}
