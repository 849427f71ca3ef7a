package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deckhand/deckhand/pkg/orchestrator"
	"github.com/deckhand/deckhand/pkg/statestore"
)

func newResetCommand(version string) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Archive the installation state",
		Long: `Move the current state file into the archive so the next install starts
from phase one.

Reset does not touch the installed application, backups, or the run
history; it only clears what deckhand believes about phase progress.
Requires --yes because a cleared state makes the next run repeat every
phase, including destructive ones.`,
		Example: `  deckhand reset --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !yes {
				return fmt.Errorf("refusing to reset without --yes")
			}

			app, err := newApp(ctx, version)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			lock, err := statestore.AcquireLock(app.cfg.Paths.StateDir)
			if err != nil {
				return orchestrator.NewStateStoreError("cannot reset", err)
			}
			defer lock.Release()

			if err := app.store.Archive(ctx); err != nil {
				return orchestrator.NewStateStoreError("failed to archive state", err)
			}
			fmt.Println("Installation state archived. The next install starts fresh.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
