package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stackherd/stackherd/pkg/engine"
)

func newWatchCommand() *cobra.Command {
	flags := &orchestrationFlags{}
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-preview on every manifest change",
		Long: `Watch the manifest and re-run a preview whenever it changes.

Useful while editing a manifest: every save triggers dependency
resolution, policy evaluation, and a preview of all units.`,
		Example: `  # Watch the default manifest
  herd watch

  # Watch with a longer settle time
  herd watch --debounce 2s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			absPath, err := filepath.Abs(manifestPath)
			if err != nil {
				return fmt.Errorf("failed to resolve manifest path: %w", err)
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer func() { _ = watcher.Close() }()

			// Watch the directory: editors commonly replace the file on save,
			// which drops a watch placed on the file itself.
			if err := watcher.Add(filepath.Dir(absPath)); err != nil {
				return fmt.Errorf("failed to watch manifest directory: %w", err)
			}

			preview := func() {
				if err := runOrchestration(ctx, engine.OperationPreview, flags); err != nil {
					log.Error().Err(err).Msg("Preview failed")
				}
			}

			log.Info().Str("manifest", absPath).Msg("Watching for changes")
			preview()

			var timer *time.Timer
			for {
				select {
				case <-ctx.Done():
					return nil

				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if filepath.Clean(event.Name) != absPath {
						continue
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
						continue
					}
					log.Info().Str("op", event.Op.String()).Msg("Manifest changed")
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(debounce, preview)

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Error().Err(err).Msg("Watcher error")
				}
			}
		},
	}

	addOrchestrationFlags(cmd, flags)
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "settle time after a change before previewing")

	return cmd
}
