package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/deckhand/deckhand/pkg/orchestrator"
)

func newTestManager(t *testing.T, sources []Source) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := NewManager(filepath.Join(dir, "backups"), sources, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m, dir
}

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestCaptureFileAndDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "secrets.env"), "TOKEN=abc\n", 0o600)
	writeFile(t, filepath.Join(dir, "certs", "server.crt"), "cert-pem", 0o644)
	writeFile(t, filepath.Join(dir, "certs", "server.key"), "key-pem", 0o600)

	m, _ := newTestManager(t, []Source{
		{Label: "secrets", Path: filepath.Join(dir, "secrets.env")},
		{Label: "certs", Path: filepath.Join(dir, "certs")},
	})

	rec, err := m.Capture(context.Background(), nil)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if len(rec.Artifacts) != 3 {
		t.Fatalf("Capture() artifacts = %d, want 3", len(rec.Artifacts))
	}
	wantSize := int64(len("TOKEN=abc\n") + len("cert-pem") + len("key-pem"))
	if rec.TotalSize != wantSize {
		t.Errorf("Capture() total size = %d, want %d", rec.TotalSize, wantSize)
	}
	for _, a := range rec.Artifacts {
		if a.Checksum == "" {
			t.Errorf("artifact %s has empty checksum", a.Label)
		}
		stored := filepath.Join(m.dir, rec.Name, a.StoredPath)
		if _, err := os.Stat(stored); err != nil {
			t.Errorf("stored artifact %s missing: %v", a.Label, err)
		}
	}

	got, err := m.Get(context.Background(), rec.Name)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != rec.Name || len(got.Artifacts) != len(rec.Artifacts) {
		t.Errorf("Get() returned a different record than captured")
	}
}

func TestCaptureSkipsMissingSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "present.txt"), "here", 0o644)

	m, _ := newTestManager(t, []Source{
		{Label: "present", Path: filepath.Join(dir, "present.txt")},
		{Label: "absent", Path: filepath.Join(dir, "does-not-exist")},
	})

	rec, err := m.Capture(context.Background(), nil)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if len(rec.Artifacts) != 1 {
		t.Fatalf("Capture() artifacts = %d, want 1", len(rec.Artifacts))
	}
	if rec.Artifacts[0].Label != "present" {
		t.Errorf("Capture() artifact label = %q, want %q", rec.Artifacts[0].Label, "present")
	}
}

func TestCaptureBeforeRecordsStateAndPhase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "data.sql"), "dump", 0o644)

	m, _ := newTestManager(t, []Source{
		{Label: "data", Path: filepath.Join(dir, "data.sql")},
	})

	state := orchestrator.NewInstallationState("run-1", "hash", nil, nil)
	phase := orchestrator.PhaseDescriptor{Name: "cleanup", Destructive: true}

	ref, err := m.CaptureBefore(context.Background(), phase, state)
	if err != nil {
		t.Fatalf("CaptureBefore() error = %v", err)
	}
	if ref.Artifacts != 1 {
		t.Errorf("CaptureBefore() artifacts = %d, want 1", ref.Artifacts)
	}

	rec, err := m.Get(context.Background(), ref.Name)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Phase != "cleanup" {
		t.Errorf("record phase = %q, want %q", rec.Phase, "cleanup")
	}
	if rec.RunID != "run-1" {
		t.Errorf("record run ID = %q, want %q", rec.RunID, "run-1")
	}
	if rec.State == nil || rec.State.RunID != "run-1" {
		t.Errorf("record is missing the state snapshot")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "secrets.env")
	writeFile(t, live, "TOKEN=original\n", 0o600)

	m, _ := newTestManager(t, []Source{{Label: "secrets", Path: live}})

	rec, err := m.Capture(context.Background(), nil)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	writeFile(t, live, "TOKEN=clobbered\n", 0o644)

	restored, err := m.Restore(context.Background(), rec)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if len(restored) != 1 || restored[0] != "secrets" {
		t.Errorf("Restore() restored = %v, want [secrets]", restored)
	}

	content, err := os.ReadFile(live)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(content) != "TOKEN=original\n" {
		t.Errorf("restored content = %q, want %q", content, "TOKEN=original\n")
	}
	info, err := os.Stat(live)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("restored mode = %o, want 600", info.Mode().Perm())
	}
}

func TestRestoreRefusesCorruptArtifact(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "data.sql")
	writeFile(t, live, "dump-v1", 0o644)

	m, _ := newTestManager(t, []Source{{Label: "data", Path: live}})

	rec, err := m.Capture(context.Background(), nil)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	// Flip bits in the stored copy and then damage the live file; a restore
	// must refuse the corrupt backup and leave the live file alone.
	stored := filepath.Join(m.dir, rec.Name, rec.Artifacts[0].StoredPath)
	if err := os.Chmod(stored, 0o644); err != nil {
		t.Fatalf("Chmod() error = %v", err)
	}
	if err := os.WriteFile(stored, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	writeFile(t, live, "dump-v2", 0o644)

	_, err = m.Restore(context.Background(), rec)
	if err == nil {
		t.Fatal("Restore() succeeded with a corrupt artifact, want error")
	}
	if !orchestrator.IsFatal(err) {
		t.Errorf("Restore() error is not fatal: %v", err)
	}
	var installErr *orchestrator.InstallError
	if !errors.As(err, &installErr) || installErr.Kind != orchestrator.KindRestore {
		t.Errorf("Restore() error kind = %v, want restore", err)
	}

	content, err := os.ReadFile(live)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(content) != "dump-v2" {
		t.Errorf("live file was modified by a refused restore: %q", content)
	}
}

func TestListOrdersMostRecentFirst(t *testing.T) {
	m, _ := newTestManager(t, nil)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, name := range []string{"older", "middle", "newest"} {
		seedBackup(t, m.dir, name, base.Add(time.Duration(i)*time.Hour))
	}

	records, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("List() returned %d records, want 3", len(records))
	}
	want := []string{"newest", "middle", "older"}
	for i, rec := range records {
		if rec.Name != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, rec.Name, want[i])
		}
	}
}

func TestListSkipsUnreadableManifest(t *testing.T) {
	m, _ := newTestManager(t, nil)
	seedBackup(t, m.dir, "good", time.Now().UTC())

	bad := filepath.Join(m.dir, "bad")
	if err := os.MkdirAll(bad, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	writeFile(t, filepath.Join(bad, manifestFileName), "{not json", 0o644)

	records, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 || records[0].Name != "good" {
		t.Errorf("List() = %d records, want only the readable one", len(records))
	}
}

func TestPrune(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name    string
		ages    map[string]time.Duration
		policy  RetentionPolicy
		removed []string
		kept    []string
	}{
		{
			name:    "max count keeps newest",
			ages:    map[string]time.Duration{"a": 3 * time.Hour, "b": 2 * time.Hour, "c": time.Hour},
			policy:  RetentionPolicy{MaxCount: 2},
			removed: []string{"a"},
			kept:    []string{"c", "b"},
		},
		{
			name:    "max age",
			ages:    map[string]time.Duration{"a": 72 * time.Hour, "b": 48 * time.Hour, "c": time.Hour},
			policy:  RetentionPolicy{MaxAge: 24 * time.Hour},
			removed: []string{"b", "a"},
			kept:    []string{"c"},
		},
		{
			name:    "most recent survives even past max age",
			ages:    map[string]time.Duration{"a": 72 * time.Hour, "b": 48 * time.Hour},
			policy:  RetentionPolicy{MaxAge: 24 * time.Hour},
			removed: []string{"a"},
			kept:    []string{"b"},
		},
		{
			name:    "empty policy removes nothing",
			ages:    map[string]time.Duration{"a": 72 * time.Hour, "b": time.Hour},
			policy:  RetentionPolicy{},
			removed: nil,
			kept:    []string{"b", "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, nil)
			for name, age := range tt.ages {
				seedBackup(t, m.dir, name, now.Add(-age))
			}

			removed, err := m.Prune(context.Background(), tt.policy)
			if err != nil {
				t.Fatalf("Prune() error = %v", err)
			}
			if len(removed) != len(tt.removed) {
				t.Fatalf("Prune() removed %v, want %v", removed, tt.removed)
			}
			for i, name := range tt.removed {
				if removed[i] != name {
					t.Errorf("Prune() removed[%d] = %q, want %q", i, removed[i], name)
				}
			}

			records, err := m.List(context.Background())
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(records) != len(tt.kept) {
				t.Fatalf("after prune, %d records remain, want %d", len(records), len(tt.kept))
			}
			for i, name := range tt.kept {
				if records[i].Name != name {
					t.Errorf("after prune, records[%d] = %q, want %q", i, records[i].Name, name)
				}
			}
		})
	}
}

// seedBackup writes a minimal valid backup directory with a chosen timestamp,
// bypassing capture so tests can control ordering precisely.
func seedBackup(t *testing.T, root, name string, createdAt time.Time) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	rec := &Record{Name: name, CreatedAt: createdAt}
	if err := writeManifest(dir, rec); err != nil {
		t.Fatalf("writeManifest() error = %v", err)
	}
}
