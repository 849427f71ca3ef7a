package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/deckhand/deckhand/pkg/orchestrator"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return store
}

func testState(runID string) *orchestrator.InstallationState {
	phases := []orchestrator.PhaseDescriptor{
		{Index: 0, Name: "clone", Action: func(context.Context) error { return nil }},
		{Index: 1, Name: "build", Action: func(context.Context) error { return nil }},
	}
	return orchestrator.NewInstallationState(runID, "hash-1", json.RawMessage(`{"app":"x"}`), phases)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	st := testState("run-1")
	st.Phases["clone"].Status = orchestrator.PhaseStatusSucceeded
	st.Phases["clone"].Attempts = 2
	st.Phases["clone"].Duration = 3 * time.Second

	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.RunID != "run-1" || loaded.ConfigHash != "hash-1" {
		t.Errorf("Load() identity = %s/%s, want run-1/hash-1", loaded.RunID, loaded.ConfigHash)
	}
	rec := loaded.Phases["clone"]
	if rec == nil || rec.Status != orchestrator.PhaseStatusSucceeded || rec.Attempts != 2 {
		t.Errorf("Load() clone record = %+v, want succeeded with 2 attempts", rec)
	}
}

func TestLoadMissingState(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Load(context.Background()); !errors.Is(err, orchestrator.ErrStateNotFound) {
		t.Errorf("Load() error = %v, want ErrStateNotFound", err)
	}
}

func TestLoadCorruptState(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated json", `{"run_id": "run-1", "sta`},
		{"not json at all", "hello"},
		{"newer schema", `{"schema_version": 99, "run_id": "run-1", "status": "running", "phases": {}}`},
		{"missing run id", `{"schema_version": 1, "status": "running", "phases": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			if err := os.WriteFile(store.Path(), []byte(tt.content), 0o644); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}

			_, err := store.Load(context.Background())
			if err == nil {
				t.Fatal("Load() = nil error on corrupt state")
			}
			if orchestrator.KindOf(err) != orchestrator.KindStateCorrupt {
				t.Errorf("Load() error kind = %q, want state_corrupt", orchestrator.KindOf(err))
			}
		})
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.Save(ctx, testState("run-1")); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temporary file %s left behind", e.Name())
		}
	}
}

func TestArchive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Archiving with no state is a no-op.
	if err := store.Archive(ctx); err != nil {
		t.Fatalf("Archive() with no state error = %v", err)
	}

	if err := store.Save(ctx, testState("run-1")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Archive(ctx); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	if _, err := store.Load(ctx); !errors.Is(err, orchestrator.ErrStateNotFound) {
		t.Errorf("Load() after archive error = %v, want ErrStateNotFound", err)
	}

	entries, err := os.ReadDir(filepath.Join(filepath.Dir(store.Path()), "archive"))
	if err != nil {
		t.Fatalf("ReadDir(archive) error = %v", err)
	}
	if len(entries) != 1 || !strings.Contains(entries[0].Name(), "run-1") {
		t.Errorf("archive contents = %v, want one run-1 document", entries)
	}
}

func TestArchiveCorruptState(t *testing.T) {
	store := newTestStore(t)
	if err := os.WriteFile(store.Path(), []byte("{broken"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := store.Archive(context.Background()); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(filepath.Dir(store.Path()), "archive"))
	if err != nil {
		t.Fatalf("ReadDir(archive) error = %v", err)
	}
	if len(entries) != 1 || !strings.Contains(entries[0].Name(), "unreadable") {
		t.Errorf("archive contents = %v, want one unreadable document", entries)
	}
}

func TestLockExcludesSecondHolder(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}

	if _, err := AcquireLock(dir); !errors.Is(err, ErrLocked) {
		t.Errorf("second AcquireLock() error = %v, want ErrLocked", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	relock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock() after release error = %v", err)
	}
	relock.Release()
}

func TestLockBreaksStaleLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deckhand.lock")

	// A PID beyond the kernel's pid_max can never be a live process.
	stale := lockInfo{PID: math.MaxInt32, Hostname: "gone", AcquiredAt: time.Now().UTC()}
	data, err := json.Marshal(&stale)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock() over stale lock error = %v", err)
	}
	lock.Release()
}

func TestLockTreatsGarbageAsStale(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "deckhand.lock"), []byte("junk"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock() over garbage lock error = %v", err)
	}
	lock.Release()
}
