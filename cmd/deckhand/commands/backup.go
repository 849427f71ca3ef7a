package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deckhand/deckhand/pkg/orchestrator"
)

func newBackupCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage installation backups",
		Long: `Create and list backups of the installation's mutable artifacts.

Backups are captured automatically before destructive phases; this command
additionally supports on-demand capture and inspection. Every backup is
checksummed per artifact and verified by read-back before it is published.`,
	}

	cmd.AddCommand(newBackupCreateCommand(version))
	cmd.AddCommand(newBackupListCommand(version))
	return cmd
}

func newBackupCreateCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Capture a backup now",
		Example: `  # Manual recovery point before maintenance
  deckhand backup create`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx, version)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			state := loadStateIfAny(ctx, app)
			rec, err := app.backups.Capture(ctx, state)
			if err != nil {
				return orchestrator.NewBackupError("backup failed", err)
			}

			fmt.Printf("Backup %s captured: %d artifact(s), %d bytes\n",
				rec.Name, len(rec.Artifacts), rec.TotalSize)
			return nil
		},
	}
}

func newBackupListCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List captured backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx, version)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			records, err := app.backups.List(ctx)
			if err != nil {
				return orchestrator.NewBackupError("failed to list backups", err)
			}

			if jsonOutput {
				data, err := json.MarshalIndent(records, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(records) == 0 {
				fmt.Println("No backups captured yet.")
				return nil
			}
			for _, rec := range records {
				line := fmt.Sprintf("%s  %s  %d artifact(s)  %d bytes",
					rec.Name, rec.CreatedAt.Format("2006-01-02 15:04:05"),
					len(rec.Artifacts), rec.TotalSize)
				if rec.Phase != "" {
					line += "  before=" + rec.Phase
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

// loadStateIfAny returns the persisted state, or nil when none exists. State
// is attached to backups for context but is not required to capture one.
func loadStateIfAny(ctx context.Context, app *app) *orchestrator.InstallationState {
	st, err := app.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, orchestrator.ErrStateNotFound) {
			app.logger.Warn().Err(err).Msg("state unreadable, capturing backup without it")
		}
		return nil
	}
	return st
}
