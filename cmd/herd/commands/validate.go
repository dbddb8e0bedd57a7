package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackherd/stackherd/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the manifest and print execution levels",
		Long: `Validate the manifest without executing anything.

This command:
  - Loads and validates the manifest
  - Resolves dependencies into execution levels
  - Evaluates policies against the unit set
  - Prints the resolved levels`,
		Example: `  # Validate the default manifest
  herd validate

  # Validate a specific manifest
  herd validate -c production.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, units, err := loadUnits()
			if err != nil {
				return err
			}

			groups, err := engine.NewResolver().Resolve(units)
			if err != nil {
				return fmt.Errorf("dependency resolution failed: %w", err)
			}

			polEng, err := newPolicyEngine(cmd.Context())
			if err != nil {
				return err
			}
			if err := enforcePolicies(cmd.Context(), polEng, manifest, units, engine.OperationApply, true); err != nil {
				return err
			}

			if jsonOutput {
				levels := make([][]string, len(groups))
				for i, group := range groups {
					for _, unit := range group {
						levels[i] = append(levels[i], unit.Name)
					}
				}
				out := map[string]interface{}{
					"project":     manifest.Project,
					"environment": manifest.Environment,
					"units":       len(units),
					"levels":      levels,
				}
				data, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Manifest valid: project %s, %d unit(s) in %d level(s)\n",
				manifest.Project, len(units), len(groups))
			for i, group := range groups {
				fmt.Printf("  Level %d:", i)
				for _, unit := range group {
					fmt.Printf(" %s", unit.Name)
				}
				fmt.Println()
			}

			return nil
		},
	}

	return cmd
}
