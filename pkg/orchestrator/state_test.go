package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
)

func testPhases(names ...string) []PhaseDescriptor {
	phases := make([]PhaseDescriptor, len(names))
	for i, name := range names {
		phases[i] = PhaseDescriptor{
			Index:  i,
			Name:   name,
			Action: func(context.Context) error { return nil },
		}
	}
	return phases
}

func TestSetPhaseStatusMonotonic(t *testing.T) {
	phases := testPhases("clone", "build")
	st := NewInstallationState("run-1", "h1", nil, phases)

	if err := st.SetPhaseStatus(phases[0], PhaseStatusRunning); err != nil {
		t.Fatalf("pending -> running: %v", err)
	}
	if err := st.SetPhaseStatus(phases[0], PhaseStatusSucceeded); err != nil {
		t.Fatalf("running -> succeeded: %v", err)
	}

	// A succeeded phase is never downgraded.
	for _, status := range []PhaseStatus{PhaseStatusPending, PhaseStatusRunning, PhaseStatusFailed} {
		if err := st.SetPhaseStatus(phases[0], status); err == nil {
			t.Errorf("succeeded -> %s accepted, want rejection", status)
		}
	}
	if err := st.SetPhaseStatus(phases[0], PhaseStatusSucceeded); err != nil {
		t.Errorf("succeeded -> succeeded: %v", err)
	}

	if err := st.SetPhaseStatus(PhaseDescriptor{Name: "nope"}, PhaseStatusRunning); err == nil {
		t.Error("unknown phase accepted")
	}
}

func TestResetPhaseAllowsRerun(t *testing.T) {
	phases := testPhases("migrate")
	st := NewInstallationState("run-1", "h1", nil, phases)

	if err := st.SetPhaseStatus(phases[0], PhaseStatusSucceeded); err != nil {
		t.Fatalf("SetPhaseStatus: %v", err)
	}
	st.ResetPhase("migrate")
	if got := st.StatusOf("migrate"); got != PhaseStatusPending {
		t.Fatalf("status after reset = %s, want pending", got)
	}
	if err := st.SetPhaseStatus(phases[0], PhaseStatusRunning); err != nil {
		t.Errorf("pending -> running after reset: %v", err)
	}
}

func TestEnsurePhases(t *testing.T) {
	st := NewInstallationState("run-1", "h1", nil, testPhases("clone"))
	st.Phases["clone"].Status = PhaseStatusSucceeded

	// A new phase appended to the sequence is added as pending.
	if err := st.EnsurePhases(testPhases("clone", "build")); err != nil {
		t.Fatalf("EnsurePhases() error = %v", err)
	}
	if got := st.StatusOf("build"); got != PhaseStatusPending {
		t.Errorf("new phase status = %s, want pending", got)
	}
	if got := st.StatusOf("clone"); got != PhaseStatusSucceeded {
		t.Errorf("existing phase status = %s, want untouched succeeded", got)
	}

	// A recorded phase missing from the sequence is a corruption signal,
	// not something to silently drop.
	if err := st.EnsurePhases(testPhases("build")); err == nil {
		t.Error("EnsurePhases() accepted state referencing an unknown phase")
	}
}

func TestStateValidate(t *testing.T) {
	st := NewInstallationState("run-1", "h1", nil, testPhases("clone"))
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate() on fresh state: %v", err)
	}

	newer := st.Snapshot()
	newer.SchemaVersion = StateSchemaVersion + 1
	if err := newer.Validate(); err == nil {
		t.Error("Validate() accepted a newer schema version")
	}

	anon := st.Snapshot()
	anon.RunID = ""
	if err := anon.Validate(); err == nil {
		t.Error("Validate() accepted a state without a run identifier")
	}

	bad := st.Snapshot()
	bad.Phases["clone"].Status = PhaseStatus("maybe")
	if err := bad.Validate(); err == nil {
		t.Error("Validate() accepted an unknown phase status")
	}
}

func TestStateSnapshotIsIndependent(t *testing.T) {
	st := NewInstallationState("run-1", "h1", json.RawMessage(`{"a":1}`), testPhases("clone"))
	cp := st.Snapshot()

	cp.Phases["clone"].Status = PhaseStatusFailed
	cp.ConfigSnapshot[2] = 'x'

	if st.StatusOf("clone") != PhaseStatusPending {
		t.Error("mutating the snapshot changed the live phase record")
	}
	if string(st.ConfigSnapshot) != `{"a":1}` {
		t.Errorf("mutating the snapshot changed the live config: %s", st.ConfigSnapshot)
	}
}

func TestStateComplete(t *testing.T) {
	phases := testPhases("clone", "build")
	st := NewInstallationState("run-1", "h1", nil, phases)
	if st.Complete() {
		t.Error("fresh state reports complete")
	}
	st.Phases["clone"].Status = PhaseStatusSucceeded
	st.Phases["build"].Status = PhaseStatusSkipped
	if !st.Complete() {
		t.Error("fully satisfied state reports incomplete")
	}
}
