package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/deckhand/deckhand/pkg/orchestrator"
)

func newStatusCommand(version string) *cobra.Command {
	var (
		follow   bool
		runLimit int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted installation state",
		Long: `Render the installation state file: run identity, overall status, and
the recorded status, attempts, and duration of every phase.

With --follow, the state file is watched and re-rendered on every change,
which lets a second terminal track a running installation. With --runs,
archived runs and their phase attempts are listed from the history store.`,
		Example: `  # Current state
  deckhand status

  # Live view while an install runs elsewhere
  deckhand status --follow

  # Last five archived runs
  deckhand status --runs 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx, version)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			if runLimit > 0 {
				return printRunHistory(ctx, app, runLimit)
			}

			if err := printState(ctx, app); err != nil {
				return err
			}
			if !follow {
				return nil
			}
			return followState(ctx, app)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "watch the state file and re-render on change")
	cmd.Flags().IntVar(&runLimit, "runs", 0, "list this many archived runs instead of the current state")

	return cmd
}

// printState renders the current installation state.
func printState(ctx context.Context, app *app) error {
	st, err := app.store.Load(ctx)
	if errors.Is(err, orchestrator.ErrStateNotFound) {
		fmt.Println("No installation state found. Run `deckhand install` to begin.")
		return nil
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Run:     %s\n", st.RunID)
	fmt.Printf("Status:  %s\n", st.Status)
	fmt.Printf("Updated: %s\n\n", st.UpdatedAt.Format("2006-01-02 15:04:05 MST"))

	names := make([]string, 0, len(st.Phases))
	for name := range st.Phases {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return st.Phases[names[i]].UpdatedAt.Before(st.Phases[names[j]].UpdatedAt)
	})
	for _, name := range names {
		rec := st.Phases[name]
		line := fmt.Sprintf("  %-14s %-10s", name, rec.Status)
		if rec.Attempts > 0 {
			line += fmt.Sprintf("  attempts=%d duration=%s", rec.Attempts, rec.Duration.Round(0))
		}
		fmt.Println(line)
	}
	return nil
}

// followState watches the state file and re-renders on every write until the
// context is cancelled.
func followState(ctx context.Context, app *app) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: atomic saves replace the file by
	// rename, which would drop a watch on the file itself.
	if err := watcher.Add(filepath.Dir(app.store.Path())); err != nil {
		return fmt.Errorf("failed to watch state directory: %w", err)
	}

	target := filepath.Base(app.store.Path())
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			fmt.Println("----")
			if err := printState(ctx, app); err != nil {
				app.logger.Warn().Err(err).Msg("failed to render state")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			app.logger.Warn().Err(err).Msg("watch error")
		}
	}
}

// printRunHistory lists archived runs and their phase attempts.
func printRunHistory(ctx context.Context, app *app, limit int) error {
	if app.history == nil {
		return fmt.Errorf("history store is unavailable")
	}

	runs, err := app.history.ListRuns(ctx, limit)
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
		fmt.Println("No recorded runs.")
		return nil
	}
	for _, run := range runs {
		fmt.Printf("%s  %-9s  %-6s  started %s\n",
			run.ID, run.Status, run.Mode, run.StartedAt.Format("2006-01-02 15:04:05"))
		if run.FailedPhase != nil {
			fmt.Printf("    failed at %s\n", *run.FailedPhase)
		}
		events, err := app.history.ListPhaseEvents(ctx, run.ID)
		if err != nil {
			return err
		}
		for _, ev := range events {
			fmt.Printf("    %-14s %-10s attempts=%d duration=%dms\n",
				ev.Phase, ev.Status, ev.Attempts, ev.DurationMS)
		}
	}
	return nil
}
