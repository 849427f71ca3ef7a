package statestore

import "time"

// RunRecord is one archived installation run in the history store.
type RunRecord struct {
	ID          string
	Mode        string
	Status      string
	ConfigHash  string
	StartedAt   time.Time
	CompletedAt *time.Time
	FailedPhase *string
	Error       *string
}

// PhaseEvent is one terminal phase outcome recorded in the history store.
type PhaseEvent struct {
	ID         int64
	RunID      string
	Phase      string
	Status     string
	Attempts   int
	DurationMS int64
	Error      *string
	CreatedAt  time.Time
}

// BackupIndexEntry is one captured backup recorded in the history store.
// The authoritative manifest lives next to the backup artifacts; this index
// exists so `status --runs` can correlate backups with runs.
type BackupIndexEntry struct {
	Name      string
	RunID     string
	Phase     string
	Artifacts int
	TotalSize int64
	CreatedAt time.Time
}

// Run modes recorded in the history store.
const (
	RunModeFresh  = "fresh"
	RunModeResume = "resume"
)
