package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/deckhand/deckhand/pkg/backup"
	"github.com/deckhand/deckhand/pkg/orchestrator"
)

func newPruneCommand(version string) *cobra.Command {
	var (
		maxCount int
		maxAge   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove backups past the retention policy",
		Long: `Delete backups that exceed the configured retention policy. The most
recent backup is never removed, so a recovery point always remains.

Flags override the retention settings from the configuration file.`,
		Example: `  # Apply the configured retention
  deckhand prune

  # Keep at most three backups regardless of config
  deckhand prune --max-count 3

  # Drop anything older than a week
  deckhand prune --max-age 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx, version)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			policy := backup.RetentionPolicy{
				MaxAge:   app.cfg.Backup.Retention.MaxAge.Std(),
				MaxCount: app.cfg.Backup.Retention.MaxCount,
			}
			if cmd.Flags().Changed("max-count") {
				policy.MaxCount = maxCount
			}
			if cmd.Flags().Changed("max-age") {
				policy.MaxAge = maxAge
			}
			if policy.MaxAge == 0 && policy.MaxCount == 0 {
				fmt.Println("No retention policy configured; nothing to prune.")
				return nil
			}

			removed, err := app.backups.Prune(ctx, policy)
			if err != nil {
				return orchestrator.NewBackupError("prune failed", err)
			}

			if len(removed) == 0 {
				fmt.Println("No backups exceeded the retention policy.")
				return nil
			}
			fmt.Printf("Removed %d backup(s):\n", len(removed))
			for _, name := range removed {
				fmt.Printf("  %s\n", name)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxCount, "max-count", 0, "keep at most this many backups")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "remove backups older than this")

	return cmd
}
