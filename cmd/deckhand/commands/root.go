package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/deckhand/deckhand/pkg/backup"
	"github.com/deckhand/deckhand/pkg/config"
	"github.com/deckhand/deckhand/pkg/orchestrator"
	"github.com/deckhand/deckhand/pkg/statestore"
	"github.com/deckhand/deckhand/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Exit codes distinguishing failure causes for scripted callers.
const (
	ExitOK         = 0
	ExitGeneral    = 1
	ExitPreflight  = 2
	ExitDrift      = 3
	ExitPhase      = 4
	ExitBackup     = 5
	ExitStateStore = 6
)

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch orchestrator.KindOf(err) {
	case orchestrator.KindPreflight:
		return ExitPreflight
	case orchestrator.KindConfigDrift:
		return ExitDrift
	case orchestrator.KindPhase, orchestrator.KindCancelled:
		return ExitPhase
	case orchestrator.KindBackup, orchestrator.KindRestore:
		return ExitBackup
	case orchestrator.KindStateCorrupt, orchestrator.KindStateStore:
		return ExitStateStore
	default:
		return ExitGeneral
	}
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "deckhand",
		Short: "Deckhand - Resumable container stack installer",
		Long: `Deckhand installs and upgrades a multi-container application through a
fixed sequence of phases with durable state, so an interrupted or failed
installation resumes exactly where it stopped instead of starting over.

Features:
  - Crash-safe installation state with atomic persistence
  - Automatic retry with exponential backoff for transient failures
  - Verified, checksummed backups before any destructive phase
  - Pre-flight host validation (disk, memory, CPU, ports, engine)
  - Resume, force-rerun, and explicit reset controls`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "deckhand.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInstallCommand(version))
	rootCmd.AddCommand(newStatusCommand(version))
	rootCmd.AddCommand(newBackupCommand(version))
	rootCmd.AddCommand(newRestoreCommand(version))
	rootCmd.AddCommand(newPruneCommand(version))
	rootCmd.AddCommand(newResetCommand(version))

	return rootCmd
}

// app wires the shared subsystems a command needs from the configuration.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	store   *statestore.FileStore
	history *statestore.History
	backups *backup.Manager
}

// newApp loads the configuration and constructs the subsystems. The history
// store is advisory: when it cannot be opened the command proceeds without
// journaling rather than blocking the installation.
func newApp(ctx context.Context, version string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	teleCfg := cfg.Telemetry.Telemetry(version)
	if verbose {
		teleCfg.Logging.Level = "debug"
	}
	if jsonOutput {
		teleCfg.Logging.Format = "json"
	}
	if err := teleCfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := telemetry.NewLogger(teleCfg.Logging)
	if err != nil {
		return nil, err
	}
	metrics, err := telemetry.NewMetrics(teleCfg.Metrics)
	if err != nil {
		return nil, err
	}
	tracer, err := telemetry.NewTracer(teleCfg.Tracing, teleCfg.ServiceName, teleCfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	store, err := statestore.NewFileStore(cfg.Paths.StateDir, telemetry.ComponentLogger(logger, "statestore"))
	if err != nil {
		return nil, orchestrator.NewStateStoreError("failed to open state store", err)
	}

	var history *statestore.History
	h, err := statestore.NewHistory(filepath.Join(cfg.Paths.StateDir, "history.db"))
	if err == nil {
		err = h.Init(ctx)
	}
	if err == nil {
		err = h.Migrate(ctx)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("history store unavailable, continuing without journal")
	} else {
		history = h
	}

	sources := make([]backup.Source, 0, len(cfg.Backup.Sources))
	for _, s := range cfg.Backup.Sources {
		sources = append(sources, backup.Source{Label: s.Label, Path: s.Path})
	}
	backups, err := backup.NewManager(cfg.Paths.BackupDir, sources, history,
		telemetry.ComponentLogger(logger, "backup"))
	if err != nil {
		return nil, orchestrator.NewBackupError("failed to open backup store", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		store:   store,
		history: history,
		backups: backups,
	}, nil
}

// journal returns the history store as an orchestrator journal, or nil.
func (a *app) journal() orchestrator.Journal {
	if a.history == nil {
		return nil
	}
	return a.history
}

// close flushes telemetry and releases the history store.
func (a *app) close(ctx context.Context) {
	if err := a.metrics.WriteTextfile(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to write metrics textfile")
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("failed to shut down tracer")
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close history store")
		}
	}
}
