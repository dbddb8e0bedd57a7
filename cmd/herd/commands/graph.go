package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackherd/stackherd/pkg/engine"
)

func newGraphCommand() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the dependency graph as DOT",
		Long: `Render the resolved dependency graph in Graphviz DOT format.

Units are clustered by execution level. Pipe the output to dot to
produce an image.`,
		Example: `  # Print DOT to stdout
  herd graph

  # Render a PNG
  herd graph | dot -Tpng -o graph.png

  # Write to a file
  herd graph -o graph.dot`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, units, err := loadUnits()
			if err != nil {
				return err
			}

			resolver := engine.NewResolver()
			groups, err := resolver.Resolve(units)
			if err != nil {
				return fmt.Errorf("dependency resolution failed: %w", err)
			}

			dot := resolver.ToDOT(groups)
			if outputFile != "" {
				if err := os.WriteFile(outputFile, []byte(dot), 0o644); err != nil {
					return fmt.Errorf("failed to write graph: %w", err)
				}
				fmt.Printf("Graph written to %s\n", outputFile)
				return nil
			}

			fmt.Print(dot)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write DOT to a file instead of stdout")

	return cmd
}
