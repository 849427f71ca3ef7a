package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/deckhand/deckhand/pkg/orchestrator"
)

// manifestFileName is the manifest document inside each backup directory.
const manifestFileName = "manifest.json"

// ArtifactEntry describes one captured artifact and its verification data.
type ArtifactEntry struct {
	// Label is the stable artifact identifier, derived from the configured
	// source label and the file's relative path within it.
	Label string `json:"label"`

	// SourcePath is the absolute live path the artifact was captured from
	// and will be restored to.
	SourcePath string `json:"source_path"`

	// StoredPath is the artifact location inside the backup directory,
	// relative to the backup root.
	StoredPath string `json:"stored_path"`

	// Checksum is the hex-encoded SHA-256 of the artifact content.
	Checksum string `json:"checksum"`

	// Size is the artifact size in bytes.
	Size int64 `json:"size"`

	// Mode is the captured file mode, reapplied on restore.
	Mode uint32 `json:"mode"`
}

// Record is the immutable manifest of one captured backup.
type Record struct {
	// Name is the timestamp-derived backup identifier.
	Name string `json:"name"`

	// Phase is the destructive phase the backup was captured for, if any.
	Phase string `json:"phase,omitempty"`

	// RunID is the installation run that triggered the capture.
	RunID string `json:"run_id,omitempty"`

	// CreatedAt is when the backup was captured.
	CreatedAt time.Time `json:"created_at"`

	// Artifacts is the contents manifest.
	Artifacts []ArtifactEntry `json:"artifacts"`

	// TotalSize is the summed artifact size in bytes.
	TotalSize int64 `json:"total_size"`

	// State is the installation state snapshot at capture time.
	State *orchestrator.InstallationState `json:"state,omitempty"`
}

// Ref converts the record to the orchestrator's backup reference.
func (r *Record) Ref() *orchestrator.BackupRef {
	return &orchestrator.BackupRef{
		Name:      r.Name,
		Artifacts: len(r.Artifacts),
		TotalSize: r.TotalSize,
		CreatedAt: r.CreatedAt,
	}
}

// writeManifest persists the manifest atomically inside the backup directory.
func writeManifest(dir string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, manifestFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary manifest: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close manifest: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, manifestFileName)); err != nil {
		return fmt.Errorf("failed to move manifest into place: %w", err)
	}
	return nil
}

// readManifest loads and decodes a backup manifest.
func readManifest(dir string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return rec, nil
}
