package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit      int
		offset     int
		runID      string
		showEvents bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List persisted runs",
		Long: `List past runs from the run history database.

With --run, shows the per-unit results, rollbacks, and optionally the
event timeline of a single run.`,
		Example: `  # List the last 20 runs
  herd history

  # Inspect one run
  herd history --run 4f6c2a1e-...

  # Include the event timeline
  herd history --run 4f6c2a1e-... --events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to open run store: %w", err)
			}
			defer func() { _ = store.Close() }()

			if runID != "" {
				run, err := store.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				results, err := store.ListResults(ctx, runID)
				if err != nil {
					return err
				}
				rollbacks, err := store.ListRollbacks(ctx, runID)
				if err != nil {
					return err
				}

				if jsonOutput {
					out := map[string]interface{}{
						"run":       run,
						"results":   results,
						"rollbacks": rollbacks,
					}
					if showEvents {
						events, err := store.ListEvents(ctx, runID, 1000, 0)
						if err != nil {
							return err
						}
						out["events"] = events
					}
					data, err := json.MarshalIndent(out, "", "  ")
					if err != nil {
						return err
					}
					fmt.Println(string(data))
					return nil
				}

				fmt.Printf("Run %s: %s %s (%s)\n", run.ID, run.Operation, run.State, run.Project)
				fmt.Printf("  Started: %s\n", run.StartedAt.Format(time.RFC3339))
				fmt.Printf("  Units: %d total, %d succeeded, %d failed\n",
					run.TotalUnits, run.SuccessfulUnits, run.FailedUnits)
				fmt.Printf("  Duration: %s\n", time.Duration(run.DurationMS)*time.Millisecond)

				for _, result := range results {
					status := "ok"
					if !result.Success {
						status = "failed"
					}
					fmt.Printf("  - %s: %s (%s", result.UnitName, status,
						time.Duration(result.DurationMS)*time.Millisecond)
					if result.Retries > 0 {
						fmt.Printf(", %d retries", result.Retries)
					}
					fmt.Print(")")
					if result.Error != nil {
						fmt.Printf(" %s", *result.Error)
					}
					fmt.Println()
				}

				for _, rb := range rollbacks {
					status := "rolled back"
					if !rb.Success {
						status = "rollback failed"
					}
					fmt.Printf("  - %s: %s\n", rb.UnitName, status)
				}

				if showEvents {
					events, err := store.ListEvents(ctx, runID, 1000, 0)
					if err != nil {
						return err
					}
					fmt.Println("  Events:")
					for _, event := range events {
						unit := ""
						if event.UnitName != nil {
							unit = " " + *event.UnitName
						}
						fmt.Printf("    %s %s%s: %s\n",
							event.Timestamp.Format(time.RFC3339), event.Type, unit, event.Message)
					}
				}

				return nil
			}

			runs, err := store.ListRuns(ctx, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(runs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(runs) == 0 {
				fmt.Println("No runs recorded")
				return nil
			}
			for _, run := range runs {
				fmt.Printf("%s  %-8s %-11s %-20s %d/%d units  %s\n",
					run.StartedAt.Format("2006-01-02 15:04:05"), run.Operation, run.State,
					run.Project, run.SuccessfulUnits, run.TotalUnits, run.ID)
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")
	cmd.Flags().StringVar(&runID, "run", "", "show details of a single run")
	cmd.Flags().BoolVar(&showEvents, "events", false, "include the event timeline (with --run)")

	return cmd
}
