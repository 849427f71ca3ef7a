package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deckhand/deckhand/pkg/backup"
	"github.com/deckhand/deckhand/pkg/orchestrator"
	"github.com/deckhand/deckhand/pkg/statestore"
)

func newRestoreCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore [backup-name]",
		Short: "Restore artifacts from a backup",
		Long: `Replace the live mutable artifacts with the contents of a backup.

Every stored artifact is checksum-verified before anything is written; a
backup that fails verification is rejected and the live environment is left
untouched. Without an argument the most recent backup is used.`,
		Example: `  # Restore the most recent backup
  deckhand restore

  # Restore a specific backup
  deckhand restore 20260115T093000Z-cleanup`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx, version)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			lock, err := statestore.AcquireLock(app.cfg.Paths.StateDir)
			if err != nil {
				return orchestrator.NewStateStoreError("cannot restore", err)
			}
			defer lock.Release()

			var rec *backup.Record
			if len(args) == 1 {
				rec, err = app.backups.Get(ctx, args[0])
			} else {
				rec, err = latestBackup(cmd, app)
			}
			if err != nil {
				return err
			}

			restored, err := app.backups.Restore(ctx, rec)
			if err != nil {
				app.metrics.RecordRestore("failed")
				return err
			}
			app.metrics.RecordRestore("succeeded")

			fmt.Printf("Restored %d artifact(s) from backup %s:\n", len(restored), rec.Name)
			for _, label := range restored {
				fmt.Printf("  %s\n", label)
			}
			return nil
		},
	}
	return cmd
}

func latestBackup(cmd *cobra.Command, app *app) (*backup.Record, error) {
	records, err := app.backups.List(cmd.Context())
	if err != nil {
		return nil, orchestrator.NewRestoreError("failed to list backups", err)
	}
	if len(records) == 0 {
		return nil, orchestrator.NewRestoreError("no backups available to restore", nil)
	}
	return records[0], nil
}
