package orchestrator

import "fmt"

// PhaseStatus represents the persisted execution status of a single phase.
type PhaseStatus string

const (
	// PhaseStatusPending indicates the phase has not been attempted yet.
	PhaseStatusPending PhaseStatus = "pending"

	// PhaseStatusRunning indicates the phase was in flight when the state was
	// last persisted. On resume a running phase is re-attempted, never skipped.
	PhaseStatusRunning PhaseStatus = "running"

	// PhaseStatusSucceeded indicates the phase completed successfully.
	// Succeeded phases are never re-executed on resume.
	PhaseStatusSucceeded PhaseStatus = "succeeded"

	// PhaseStatusFailed indicates the phase failed terminally. A failed phase
	// blocks all later phases until retried or skipped by the operator.
	PhaseStatusFailed PhaseStatus = "failed"

	// PhaseStatusSkipped indicates the operator explicitly skipped the phase.
	PhaseStatusSkipped PhaseStatus = "skipped"
)

// IsTerminal returns true if the status represents a final per-phase state.
func (s PhaseStatus) IsTerminal() bool {
	return s == PhaseStatusSucceeded || s == PhaseStatusFailed || s == PhaseStatusSkipped
}

// Satisfied returns true if the phase does not need to run on resume.
func (s PhaseStatus) Satisfied() bool {
	return s == PhaseStatusSucceeded || s == PhaseStatusSkipped
}

// Validate checks if the phase status is a known value.
func (s PhaseStatus) Validate() error {
	switch s {
	case PhaseStatusPending, PhaseStatusRunning, PhaseStatusSucceeded,
		PhaseStatusFailed, PhaseStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid phase status: %s", s)
	}
}

// RunStatus represents the overall status of an installation run.
type RunStatus string

const (
	// RunStatusPending indicates the run has been created but no phase started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing phases.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every phase completed successfully.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run halted on a fatal failure.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was aborted by the operator.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Validate checks if the run status is a known value.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}
