package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stackherd/stackherd/pkg/engine"
)

func newDestroyCommand() *cobra.Command {
	flags := &orchestrationFlags{}
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy all units in reverse dependency order",
		Long: `Destroy every unit in the manifest.

Units are destroyed in reverse dependency order so that dependents are
torn down before the units they depend on.`,
		Example: `  # Destroy with approval prompt
  herd destroy

  # Destroy without prompting
  herd destroy --auto-approve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !autoApprove {
				_, units, err := loadUnits()
				if err != nil {
					return err
				}
				fmt.Printf("This will destroy %d unit(s). Continue? [y/N]: ", len(units))
				reader := bufio.NewReader(os.Stdin)
				answer, _ := reader.ReadString('\n')
				answer = strings.ToLower(strings.TrimSpace(answer))
				if answer != "y" && answer != "yes" {
					fmt.Println("Destroy cancelled")
					return nil
				}
			}
			return runOrchestration(cmd.Context(), engine.OperationDestroy, flags)
		},
	}

	addOrchestrationFlags(cmd, flags)
	addMetricsFlag(cmd, flags)
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip approval prompt")

	return cmd
}
