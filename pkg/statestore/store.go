package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/deckhand/deckhand/pkg/orchestrator"
)

const (
	// stateFileName is the well-known state document name inside the data
	// directory.
	stateFileName = "state.json"

	// archiveDirName holds state documents moved aside by Archive.
	archiveDirName = "archive"
)

// FileStore persists the installation state as a JSON document with
// crash-atomic writes: the new state is written to a temporary file in the
// same directory and renamed into place, so Load never observes a
// half-written document.
type FileStore struct {
	dir    string
	logger zerolog.Logger
}

// NewFileStore creates a store rooted at the given data directory.
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Path returns the absolute location of the state document.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, stateFileName)
}

// Load reads and validates the persisted state.
// A corrupt or schema-incompatible document fails with a StateCorrupt error;
// progress is never silently discarded.
func (s *FileStore) Load(_ context.Context) (*orchestrator.InstallationState, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, orchestrator.ErrStateNotFound
		}
		return nil, orchestrator.NewStateStoreError("failed to read state file", err)
	}

	st := &orchestrator.InstallationState{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, orchestrator.NewStateCorruptError("state file is not valid JSON", err)
	}
	if err := st.Validate(); err != nil {
		return nil, orchestrator.NewStateCorruptError("state file failed validation", err)
	}
	return st, nil
}

// Save atomically persists the state. The document is durably committed
// before Save returns.
func (s *FileStore) Save(_ context.Context, st *orchestrator.InstallationState) error {
	if st == nil {
		return orchestrator.NewStateStoreError("cannot save nil state", nil)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return orchestrator.NewStateStoreError("failed to encode state", err)
	}

	tmp, err := os.CreateTemp(s.dir, stateFileName+".tmp-*")
	if err != nil {
		return orchestrator.NewStateStoreError("failed to create temporary state file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return orchestrator.NewStateStoreError("failed to write temporary state file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return orchestrator.NewStateStoreError("failed to sync temporary state file", err)
	}
	if err := tmp.Close(); err != nil {
		return orchestrator.NewStateStoreError("failed to close temporary state file", err)
	}

	if err := os.Rename(tmpName, s.Path()); err != nil {
		return orchestrator.NewStateStoreError("failed to move state file into place", err)
	}
	return syncDir(s.dir)
}

// Archive moves the current state document into the archive directory,
// stamped with its run identifier and time. Archiving a missing document is
// not an error.
func (s *FileStore) Archive(ctx context.Context) error {
	st, err := s.Load(ctx)
	if errors.Is(err, orchestrator.ErrStateNotFound) {
		return nil
	}
	name := "unreadable"
	if err == nil {
		name = st.RunID
	}
	// A corrupt document is archived too: explicit operator reset is the only
	// path that moves corrupt state out of the way, and the copy is kept for
	// diagnosis.

	archiveDir := filepath.Join(s.dir, archiveDirName)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	dest := filepath.Join(archiveDir, fmt.Sprintf("state-%s-%s.json",
		name, time.Now().UTC().Format("20060102T150405Z")))
	if err := os.Rename(s.Path(), dest); err != nil {
		return fmt.Errorf("failed to archive state file: %w", err)
	}
	s.logger.Info().Str("archived_to", dest).Msg("prior state archived")
	return syncDir(s.dir)
}

// syncDir flushes directory metadata so a rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}
