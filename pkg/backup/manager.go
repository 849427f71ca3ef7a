package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/deckhand/deckhand/pkg/orchestrator"
	"github.com/deckhand/deckhand/pkg/statestore"
)

// Source is one configured mutable location to protect: a file or a
// directory tree (data dumps, secret files, certificate directories).
type Source struct {
	// Label identifies the source in manifests and restore reports.
	Label string `json:"label"`

	// Path is the absolute file or directory to capture.
	Path string `json:"path"`
}

// RetentionPolicy controls pruning. The most recent backup is always kept,
// even when it violates the policy.
type RetentionPolicy struct {
	// MaxAge removes backups older than this window. Zero disables the check.
	MaxAge time.Duration

	// MaxCount caps the number of retained backups. Zero disables the check.
	MaxCount int
}

// Manager captures, verifies, restores, and prunes backups under a single
// backup directory. Records are immutable once written.
type Manager struct {
	dir     string
	sources []Source
	history *statestore.History
	logger  zerolog.Logger
}

// NewManager creates a backup manager rooted at dir, protecting the given
// sources. The history store is optional; when present, captures and prunes
// are indexed for run correlation.
func NewManager(dir string, sources []Source, history *statestore.History, logger zerolog.Logger) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &Manager{dir: dir, sources: sources, history: history, logger: logger}, nil
}

// CaptureBefore implements orchestrator.BackupManager. It gathers every
// configured artifact, stores a checksummed copy, verifies each copy by
// read-back, and only then writes the manifest that makes the backup
// eligible for restore.
func (m *Manager) CaptureBefore(ctx context.Context, phase orchestrator.PhaseDescriptor, state *orchestrator.InstallationState) (*orchestrator.BackupRef, error) {
	runID := ""
	if state != nil {
		runID = state.RunID
	}
	rec, err := m.capture(ctx, phase.Name, runID, state)
	if err != nil {
		return nil, orchestrator.NewBackupError("backup capture failed", err).WithPhase(phase.Name)
	}
	return rec.Ref(), nil
}

// Capture takes an on-demand backup outside any phase, for the CLI surface.
func (m *Manager) Capture(ctx context.Context, state *orchestrator.InstallationState) (*Record, error) {
	runID := ""
	if state != nil {
		runID = state.RunID
	}
	return m.capture(ctx, "", runID, state)
}

func (m *Manager) capture(ctx context.Context, phase, runID string, state *orchestrator.InstallationState) (*Record, error) {
	now := time.Now().UTC()
	name := now.Format("20060102T150405Z")
	if phase != "" {
		name += "-" + phase
	}

	dir := filepath.Join(m.dir, name)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("backup %s already exists", name)
	}
	// Capture into a staging directory; the final rename publishes the
	// backup only once every artifact is verified.
	staging := dir + ".partial"
	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("failed to clear stale staging directory: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	rec := &Record{
		Name:      name,
		Phase:     phase,
		RunID:     runID,
		CreatedAt: now,
		State:     state,
	}

	for _, src := range m.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := m.captureSource(staging, src)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Label, err)
		}
		for _, e := range entries {
			rec.Artifacts = append(rec.Artifacts, e)
			rec.TotalSize += e.Size
		}
	}

	// Read-back verification: every stored copy must hash to what was
	// captured before the backup is trusted.
	for i := range rec.Artifacts {
		e := &rec.Artifacts[i]
		sum, _, err := hashFile(filepath.Join(staging, e.StoredPath))
		if err != nil {
			return nil, fmt.Errorf("read-back of %s failed: %w", e.Label, err)
		}
		if sum != e.Checksum {
			return nil, fmt.Errorf("read-back checksum mismatch for %s", e.Label)
		}
	}

	if err := writeManifest(staging, rec); err != nil {
		return nil, err
	}
	if err := os.Rename(staging, dir); err != nil {
		return nil, fmt.Errorf("failed to publish backup: %w", err)
	}

	m.logger.Info().Str("backup", name).Int("artifacts", len(rec.Artifacts)).
		Int64("total_size", rec.TotalSize).Msg("backup captured")

	if m.history != nil {
		err := m.history.RecordBackup(ctx, &statestore.BackupIndexEntry{
			Name:      rec.Name,
			RunID:     runID,
			Phase:     phase,
			Artifacts: len(rec.Artifacts),
			TotalSize: rec.TotalSize,
			CreatedAt: rec.CreatedAt,
		})
		if err != nil {
			m.logger.Warn().Err(err).Msg("failed to index backup in history store")
		}
	}
	return rec, nil
}

// captureSource copies one configured source into the staging directory,
// expanding directories into per-file artifacts.
func (m *Manager) captureSource(staging string, src Source) ([]ArtifactEntry, error) {
	info, err := os.Stat(src.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// A source that does not exist yet (first install) is skipped,
			// not failed: there is nothing to protect.
			m.logger.Debug().Str("source", src.Label).Str("path", src.Path).
				Msg("source missing, skipping")
			return nil, nil
		}
		return nil, err
	}

	if !info.IsDir() {
		entry, err := m.captureFile(staging, src.Label, src.Path, info)
		if err != nil {
			return nil, err
		}
		return []ArtifactEntry{entry}, nil
	}

	var entries []ArtifactEntry
	err = filepath.WalkDir(src.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src.Path, path)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		entry, err := m.captureFile(staging, filepath.Join(src.Label, rel), path, fi)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// captureFile copies a single file into staging, hashing it in transit.
func (m *Manager) captureFile(staging, label, path string, info fs.FileInfo) (ArtifactEntry, error) {
	stored := filepath.Join("data", label)
	dest := filepath.Join(staging, stored)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return ArtifactEntry{}, err
	}

	in, err := os.Open(path)
	if err != nil {
		return ArtifactEntry{}, err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return ArtifactEntry{}, err
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(out, hasher), in)
	if err != nil {
		out.Close()
		return ArtifactEntry{}, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return ArtifactEntry{}, err
	}
	if err := out.Close(); err != nil {
		return ArtifactEntry{}, err
	}

	return ArtifactEntry{
		Label:      label,
		SourcePath: path,
		StoredPath: stored,
		Checksum:   hex.EncodeToString(hasher.Sum(nil)),
		Size:       size,
		Mode:       uint32(info.Mode().Perm()),
	}, nil
}

// List returns all backup records, most recent first. Directories without a
// readable manifest are skipped with a warning.
func (m *Manager) List(_ context.Context) ([]*Record, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	records := []*Record{}
	for _, e := range entries {
		if !e.IsDir() || filepath.Ext(e.Name()) == ".partial" {
			continue
		}
		rec, err := readManifest(filepath.Join(m.dir, e.Name()))
		if err != nil {
			m.logger.Warn().Str("backup", e.Name()).Err(err).Msg("skipping backup with unreadable manifest")
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Get loads one backup record by name.
func (m *Manager) Get(_ context.Context, name string) (*Record, error) {
	rec, err := readManifest(filepath.Join(m.dir, name))
	if err != nil {
		return nil, orchestrator.NewRestoreError("backup "+name+" not found or unreadable", err)
	}
	return rec, nil
}

// Restore replaces live artifacts with the backed-up versions. Every stored
// artifact checksum is verified before anything is touched; verification
// failure aborts with no partial restore. Each artifact is then applied
// atomically by temp-write-then-swap. Returns the labels restored.
func (m *Manager) Restore(ctx context.Context, rec *Record) ([]string, error) {
	if rec == nil {
		return nil, orchestrator.NewRestoreError("no backup record given", nil)
	}
	root := filepath.Join(m.dir, rec.Name)

	// Verify-then-apply, never apply-then-verify.
	for i := range rec.Artifacts {
		e := &rec.Artifacts[i]
		sum, _, err := hashFile(filepath.Join(root, e.StoredPath))
		if err != nil {
			return nil, orchestrator.NewRestoreError("artifact "+e.Label+" is unreadable", err)
		}
		if sum != e.Checksum {
			return nil, orchestrator.NewRestoreError("artifact "+e.Label+" failed checksum verification", nil)
		}
	}

	restored := make([]string, 0, len(rec.Artifacts))
	for i := range rec.Artifacts {
		if err := ctx.Err(); err != nil {
			return restored, orchestrator.NewRestoreError("restore interrupted", err)
		}
		e := &rec.Artifacts[i]
		if err := m.restoreArtifact(root, e); err != nil {
			return restored, orchestrator.NewRestoreError("failed to restore "+e.Label, err)
		}
		restored = append(restored, e.Label)
	}

	m.logger.Info().Str("backup", rec.Name).Int("restored", len(restored)).Msg("restore complete")
	return restored, nil
}

// restoreArtifact swaps a verified stored copy into the live location.
func (m *Manager) restoreArtifact(root string, e *ArtifactEntry) error {
	if err := os.MkdirAll(filepath.Dir(e.SourcePath), 0o755); err != nil {
		return err
	}

	in, err := os.Open(filepath.Join(root, e.StoredPath))
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(e.SourcePath), filepath.Base(e.SourcePath)+".restore-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, fs.FileMode(e.Mode)); err != nil {
		return err
	}
	return os.Rename(tmpName, e.SourcePath)
}

// Prune removes backups violating the retention policy. The single most
// recent record survives unconditionally so a recovery point always exists.
// Returns the names of removed backups.
func (m *Manager) Prune(ctx context.Context, policy RetentionPolicy) ([]string, error) {
	records, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) <= 1 {
		return nil, nil
	}

	cutoff := time.Time{}
	if policy.MaxAge > 0 {
		cutoff = time.Now().UTC().Add(-policy.MaxAge)
	}

	removed := []string{}
	// records is most recent first; index 0 is always kept.
	for i, rec := range records[1:] {
		tooOld := policy.MaxAge > 0 && rec.CreatedAt.Before(cutoff)
		overCount := policy.MaxCount > 0 && i+1 >= policy.MaxCount
		if !tooOld && !overCount {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.dir, rec.Name)); err != nil {
			return removed, fmt.Errorf("failed to remove backup %s: %w", rec.Name, err)
		}
		if m.history != nil {
			if err := m.history.DeleteBackup(ctx, rec.Name); err != nil {
				m.logger.Warn().Err(err).Str("backup", rec.Name).Msg("failed to deindex pruned backup")
			}
		}
		m.logger.Info().Str("backup", rec.Name).Msg("backup pruned")
		removed = append(removed, rec.Name)
	}
	return removed, nil
}

// hashFile computes the SHA-256 of a file's content.
func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	hasher := sha256.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}
