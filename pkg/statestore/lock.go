package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// lockFileName is the well-known lock file inside the data directory.
const lockFileName = "deckhand.lock"

// ErrLocked is returned when another orchestrator process holds the lock.
var ErrLocked = errors.New("another deckhand process holds the installation lock")

// lockInfo is the content of the lock file, used for staleness detection.
type lockInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is an exclusive per-target lock held for the lifetime of a run.
// It prevents two orchestrator instances from mutating the same environment
// concurrently; this is the only cross-process synchronization Deckhand uses.
type Lock struct {
	path string
}

// AcquireLock takes the run lock in the given data directory. A lock left by
// a crashed process is detected by probing its PID and broken automatically.
func AcquireLock(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	path := filepath.Join(dir, lockFileName)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			hostname, _ := os.Hostname()
			info := lockInfo{
				PID:        os.Getpid(),
				Hostname:   hostname,
				AcquiredAt: time.Now().UTC(),
			}
			enc := json.NewEncoder(f)
			if werr := enc.Encode(&info); werr != nil {
				f.Close()
				os.Remove(path)
				return nil, fmt.Errorf("failed to write lock file: %w", werr)
			}
			if cerr := f.Close(); cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("failed to close lock file: %w", cerr)
			}
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		stale, serr := isStale(path)
		if serr != nil {
			return nil, serr
		}
		if !stale {
			return nil, ErrLocked
		}
		// Break the stale lock and retry once.
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", rerr)
		}
	}
	return nil, ErrLocked
}

// Release removes the lock file. Safe to call once per acquired lock.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// isStale reports whether the lock's owning process no longer exists.
func isStale(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Lock vanished between the create attempt and the read.
			return true, nil
		}
		return false, fmt.Errorf("failed to read lock file: %w", err)
	}

	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil || info.PID <= 0 {
		// Unreadable lock content is treated as stale.
		return true, nil
	}

	proc, err := os.FindProcess(info.PID)
	if err != nil {
		return true, nil
	}
	// Signal 0 probes for existence without delivering a signal.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return true, nil
	}
	return false, nil
}
