package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tetherhq/tether/gateway/internal/domain/service"
)

const snapshotFile = "session.json"

// Store persists the session snapshot as session.json under the state
// directory. Saves go through a temp file and a rename, so a crash mid-write
// never leaves a truncated snapshot behind.
type Store struct {
	dir string
}

// NewStore creates a snapshot store rooted at dir (typically ~/.tether).
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the snapshot file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, snapshotFile)
}

// Load reads the snapshot. A missing file returns (nil, nil); an unreadable
// or corrupt one returns an error so the caller can log it and start fresh.
func (s *Store) Load() (*service.Snapshot, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap service.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &snap, nil
}

// Save writes the snapshot atomically, creating the state directory first.
func (s *Store) Save(snap *service.Snapshot) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, snapshotFile+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
