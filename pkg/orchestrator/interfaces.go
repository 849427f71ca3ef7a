package orchestrator

import (
	"context"
	"errors"
	"time"
)

// ErrStateNotFound is returned by StateStore.Load when no state document
// exists for the target.
var ErrStateNotFound = errors.New("installation state not found")

// StateStore persists installation progress. Implementations must make Save
// atomic with respect to process crash: a half-written document is never
// visible to Load.
type StateStore interface {
	// Load retrieves the persisted state, ErrStateNotFound when none exists,
	// or a StateCorrupt error when the document is unreadable or carries an
	// unsupported schema version.
	Load(ctx context.Context) (*InstallationState, error)

	// Save durably persists the state before returning.
	Save(ctx context.Context, state *InstallationState) error

	// Archive moves the current state document aside so a fresh run can
	// start. Archiving a missing document is not an error.
	Archive(ctx context.Context) error
}

// BackupRef identifies a captured backup and its verification summary.
type BackupRef struct {
	// Name is the timestamp-derived backup identifier.
	Name string `json:"name"`

	// Artifacts is the number of artifacts captured.
	Artifacts int `json:"artifacts"`

	// TotalSize is the summed artifact size in bytes.
	TotalSize int64 `json:"total_size"`

	// CreatedAt is when the backup was captured.
	CreatedAt time.Time `json:"created_at"`
}

// BackupManager captures recovery points before destructive phases.
// The orchestrator only depends on capture; list/restore/prune are operator
// surfaces wired directly to the CLI.
type BackupManager interface {
	// CaptureBefore gathers the mutable artifacts relevant to the upcoming
	// destructive phase and returns only after all artifacts are durably
	// stored and their checksums verified by read-back.
	CaptureBefore(ctx context.Context, phase PhaseDescriptor, state *InstallationState) (*BackupRef, error)
}

// PreflightRunner is the pre-flight validation gate consumed before phase 1.
// Any failing report is treated as fatal unless the operator skips checks.
type PreflightRunner interface {
	// Check probes the environment and returns an error describing every
	// failed check, or nil when the environment is suitable.
	Check(ctx context.Context) error
}

// Journal receives phase lifecycle events for the run history archive.
// Journal failures are logged, never fatal: the state file remains the single
// source of truth for progress.
type Journal interface {
	// RunStarted records the beginning of a run.
	RunStarted(ctx context.Context, state *InstallationState, resumed bool) error

	// PhaseAttempted records one terminal phase outcome within a run.
	PhaseAttempted(ctx context.Context, runID string, result PhaseResult) error

	// RunFinished records the terminal run outcome.
	RunFinished(ctx context.Context, runID string, result *RunResult) error
}
