package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"
)

// StateSchemaVersion is the current schema version of the persisted state
// document. Loading a newer version fails with StateCorrupt rather than
// guessing at field semantics.
const StateSchemaVersion = 1

// PhaseRecord is the persisted per-phase progress entry.
type PhaseRecord struct {
	// Status is the recorded phase status.
	Status PhaseStatus `json:"status"`

	// Attempts is the total number of attempts across all runs.
	Attempts int `json:"attempts"`

	// Duration is the cumulative wall-clock time spent on the phase.
	Duration time.Duration `json:"duration"`

	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// InstallationState is the durable record of progress for one installation
// attempt. The orchestrator exclusively owns its mutation; the state store
// owns its persistence.
type InstallationState struct {
	// SchemaVersion detects incompatible future changes to this document.
	SchemaVersion int `json:"schema_version"`

	// RunID uniquely identifies the installation attempt.
	RunID string `json:"run_id"`

	// Status is the overall run status.
	Status RunStatus `json:"status"`

	// LastPhaseIndex is the index of the last phase attempted.
	LastPhaseIndex int `json:"last_phase_index"`

	// LastPhaseName is the name of the last phase attempted.
	LastPhaseName string `json:"last_phase_name"`

	// Phases maps phase names to their progress records.
	Phases map[string]*PhaseRecord `json:"phases"`

	// ConfigHash is the canonical hash of the resolved configuration the run
	// started with. Resume refuses to proceed when the supplied configuration
	// hashes differently.
	ConfigHash string `json:"config_hash"`

	// ConfigSnapshot is the resolved configuration captured at run start, so
	// a resume can never silently use a different configuration.
	ConfigSnapshot json.RawMessage `json:"config_snapshot,omitempty"`

	// CreatedAt is when the state was first persisted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the state last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewInstallationState creates the state for a fresh run with every phase
// pending.
func NewInstallationState(runID, configHash string, snapshot json.RawMessage, phases []PhaseDescriptor) *InstallationState {
	now := time.Now().UTC()
	st := &InstallationState{
		SchemaVersion:  StateSchemaVersion,
		RunID:          runID,
		Status:         RunStatusPending,
		LastPhaseIndex: -1,
		Phases:         make(map[string]*PhaseRecord, len(phases)),
		ConfigHash:     configHash,
		ConfigSnapshot: snapshot,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i := range phases {
		st.Phases[phases[i].Name] = &PhaseRecord{
			Status:    PhaseStatusPending,
			UpdatedAt: now,
		}
	}
	return st
}

// Validate checks structural integrity of a loaded state document.
func (s *InstallationState) Validate() error {
	if s.SchemaVersion > StateSchemaVersion {
		return fmt.Errorf("state schema version %d is newer than supported version %d",
			s.SchemaVersion, StateSchemaVersion)
	}
	if s.SchemaVersion < 1 {
		return fmt.Errorf("invalid state schema version: %d", s.SchemaVersion)
	}
	if s.RunID == "" {
		return fmt.Errorf("state has no run identifier")
	}
	if err := s.Status.Validate(); err != nil {
		return err
	}
	for name, rec := range s.Phases {
		if rec == nil {
			return fmt.Errorf("phase %s: nil record", name)
		}
		if err := rec.Status.Validate(); err != nil {
			return fmt.Errorf("phase %s: %w", name, err)
		}
	}
	return nil
}

// EnsurePhases validates that the state is compatible with the requested
// phase list. Phases recorded in the state must all appear in the list;
// phases new to the list are added as pending.
func (s *InstallationState) EnsurePhases(phases []PhaseDescriptor) error {
	known := make(map[string]struct{}, len(phases))
	for i := range phases {
		known[phases[i].Name] = struct{}{}
	}
	for name := range s.Phases {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("persisted state references unknown phase %q", name)
		}
	}
	now := time.Now().UTC()
	for i := range phases {
		if _, ok := s.Phases[phases[i].Name]; !ok {
			s.Phases[phases[i].Name] = &PhaseRecord{
				Status:    PhaseStatusPending,
				UpdatedAt: now,
			}
		}
	}
	return nil
}

// StatusOf returns the recorded status for a phase. Unknown phases report
// pending.
func (s *InstallationState) StatusOf(name string) PhaseStatus {
	if rec, ok := s.Phases[name]; ok {
		return rec.Status
	}
	return PhaseStatusPending
}

// SetPhaseStatus records a phase transition. Statuses are monotonic: a phase
// recorded succeeded is never downgraded.
func (s *InstallationState) SetPhaseStatus(phase PhaseDescriptor, status PhaseStatus) error {
	rec, ok := s.Phases[phase.Name]
	if !ok {
		return fmt.Errorf("unknown phase: %s", phase.Name)
	}
	if rec.Status == PhaseStatusSucceeded && status != PhaseStatusSucceeded {
		return fmt.Errorf("phase %s: cannot transition from succeeded to %s", phase.Name, status)
	}
	now := time.Now().UTC()
	rec.Status = status
	rec.UpdatedAt = now
	s.LastPhaseIndex = phase.Index
	s.LastPhaseName = phase.Name
	s.UpdatedAt = now
	return nil
}

// ResetPhase clears a phase back to pending so an operator-requested rerun
// can transition it through running again. This is the only sanctioned path
// around the monotonic transition rule.
func (s *InstallationState) ResetPhase(name string) {
	if rec, ok := s.Phases[name]; ok {
		rec.Status = PhaseStatusPending
		rec.UpdatedAt = time.Now().UTC()
		s.UpdatedAt = rec.UpdatedAt
	}
}

// RecordAttempts accumulates attempt count and duration for a phase.
func (s *InstallationState) RecordAttempts(name string, attempts int, d time.Duration) {
	if rec, ok := s.Phases[name]; ok {
		rec.Attempts += attempts
		rec.Duration += d
		rec.UpdatedAt = time.Now().UTC()
		s.UpdatedAt = rec.UpdatedAt
	}
}

// FailedPhase returns the name of a phase recorded as failed, if any.
// A failed phase blocks all later phases until retried or skipped.
func (s *InstallationState) FailedPhase() (string, bool) {
	for name, rec := range s.Phases {
		if rec.Status == PhaseStatusFailed {
			return name, true
		}
	}
	return "", false
}

// Complete returns true once every phase is satisfied.
func (s *InstallationState) Complete() bool {
	for _, rec := range s.Phases {
		if !rec.Status.Satisfied() {
			return false
		}
	}
	return true
}

// Snapshot returns a deep copy of the state for embedding in backup
// manifests. Mutating the copy never affects the live state.
func (s *InstallationState) Snapshot() *InstallationState {
	cp := *s
	cp.Phases = make(map[string]*PhaseRecord, len(s.Phases))
	for name, rec := range s.Phases {
		r := *rec
		cp.Phases[name] = &r
	}
	if s.ConfigSnapshot != nil {
		cp.ConfigSnapshot = make(json.RawMessage, len(s.ConfigSnapshot))
		copy(cp.ConfigSnapshot, s.ConfigSnapshot)
	}
	return &cp
}
