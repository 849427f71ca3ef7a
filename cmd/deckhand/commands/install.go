package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deckhand/deckhand/pkg/config"
	"github.com/deckhand/deckhand/pkg/orchestrator"
	"github.com/deckhand/deckhand/pkg/phases"
	"github.com/deckhand/deckhand/pkg/preflight"
	"github.com/deckhand/deckhand/pkg/statestore"
	"github.com/deckhand/deckhand/pkg/telemetry"
)

func newInstallCommand(version string) *cobra.Command {
	var (
		resume     bool
		skipChecks bool
		forceRerun bool
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Run the installation phase sequence",
		Long: `Run the installation phases in order, persisting state after every
transition.

A fresh run archives any prior state and starts from phase one. With
--resume, the persisted state is loaded and phases already recorded as
succeeded are skipped; the run continues from the first unfinished phase.
Resume refuses to proceed when the configuration changed since the
persisted run (config drift).

On failure or interrupt, re-invoking with --resume continues from the
recorded point. The state file is the single source of truth for what
happened.`,
		Example: `  # Fresh installation
  deckhand install --config deckhand.yaml

  # Continue after a failure or interrupt
  deckhand install --resume

  # Resume on a host already validated once
  deckhand install --resume --skip-checks`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx, version)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			lock, err := statestore.AcquireLock(app.cfg.Paths.StateDir)
			if err != nil {
				return orchestrator.NewStateStoreError("cannot start run", err)
			}
			defer lock.Release()

			runner := preflight.NewRunner(buildChecks(app.cfg),
				telemetry.ComponentLogger(app.logger, "preflight"))
			actions := phases.NewActions(app.cfg,
				telemetry.ComponentLogger(app.logger, "phases"))

			orch, err := orchestrator.New(app.store,
				orchestrator.WithBackupManager(app.backups),
				orchestrator.WithPreflight(runner),
				orchestrator.WithJournal(app.journal()),
				orchestrator.WithBackoff(app.cfg.Retry.BaseDelay.Std(), app.cfg.Retry.MaxDelay.Std()),
				orchestrator.WithLogger(telemetry.ComponentLogger(app.logger, "orchestrator")),
				orchestrator.WithMetrics(app.metrics),
			)
			if err != nil {
				return err
			}

			snapshot, err := app.cfg.Snapshot()
			if err != nil {
				return err
			}
			hash, err := app.cfg.Hash()
			if err != nil {
				return err
			}

			result := orch.Run(ctx, actions.List(),
				orchestrator.RunConfig{Hash: hash, Snapshot: snapshot},
				orchestrator.RunOptions{Resume: resume, SkipChecks: skipChecks, ForceRerun: forceRerun})

			printRunResult(result)
			return result.Err
		},
	}

	cmd.Flags().BoolVar(&resume, "resume", false, "continue from the persisted state")
	cmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "bypass pre-flight validation")
	cmd.Flags().BoolVar(&forceRerun, "force-rerun", false, "re-run succeeded non-idempotent phases")

	return cmd
}

// buildChecks assembles the pre-flight checks the configuration asks for.
func buildChecks(cfg *config.Config) []preflight.Check {
	req := cfg.Requirements
	var checks []preflight.Check

	if req.MinDiskMB > 0 {
		// Probe the parent when the install dir does not exist yet.
		path := cfg.Paths.InstallDir
		if _, err := os.Stat(path); err != nil {
			path = "/"
		}
		checks = append(checks, &preflight.DiskSpaceCheck{Path: path, MinBytes: req.MinDiskMB << 20})
	}
	if req.MinMemoryMB > 0 {
		checks = append(checks, &preflight.MemoryCheck{MinBytes: req.MinMemoryMB << 20})
	}
	if req.MinCPUs > 0 {
		checks = append(checks, &preflight.CPUCheck{MinCores: req.MinCPUs})
	}
	if len(req.Ports) > 0 {
		checks = append(checks, &preflight.PortCheck{Ports: req.Ports})
	}
	checks = append(checks, &preflight.ContainerEngineCheck{Binary: req.ContainerEngine})
	return checks
}

// printRunResult renders the run outcome for the operator.
func printRunResult(result *orchestrator.RunResult) {
	if jsonOutput {
		data, err := json.MarshalIndent(result, "", "  ")
		if err == nil {
			fmt.Println(string(data))
		}
		return
	}

	fmt.Printf("\nRun %s: %s (%.1fs)\n", result.RunID, result.Status, result.Elapsed.Seconds())
	for _, pr := range result.Phases {
		line := fmt.Sprintf("  %-14s %-10s", pr.Name, pr.Status)
		if pr.Attempts > 1 {
			line += fmt.Sprintf("  (%d attempts)", pr.Attempts)
		}
		fmt.Println(line)
	}
	if result.FailedPhase != "" {
		fmt.Printf("\nHalted at phase %q: %v\n", result.FailedPhase, result.Err)
		fmt.Println("Re-run with --resume to continue from this point.")
	}
}
