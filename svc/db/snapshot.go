package db

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"wordbin/metrics"
	"wordbin/pkg/domain"
)

// Snapshot persists the full paste collection as a single JSON file,
// rewritten in its entirety on every save. The caller (the paste store)
// serializes all access; Save and Load are never invoked concurrently.
type Snapshot struct {
	path string
}

func NewSnapshot(path string) *Snapshot {
	return &Snapshot{path: path}
}

func (s *Snapshot) Path() string { return s.path }

// Save overwrites the snapshot with the given collection. The write goes
// through a temp file in the same directory and a rename, so a crash
// mid-write leaves the previous snapshot intact.
func (s *Snapshot) Save(pastes []*domain.Paste) error {
	start := time.Now()
	if pastes == nil {
		pastes = []*domain.Paste{}
	}
	data, err := json.Marshal(pastes)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return errors.Wrap(err, "create temp snapshot")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "write snapshot")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "sync snapshot")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "close snapshot")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "replace snapshot")
	}
	metrics.SnapshotWriteDuration.Observe(time.Since(start).Seconds())
	return nil
}

// Load reads the snapshot at startup. A missing file is a first run and
// yields an empty collection; a file that exists but does not parse is
// reported as corrupt so the process can refuse to start instead of
// silently discarding user data.
func (s *Snapshot) Load() ([]*domain.Paste, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*domain.Paste{}, nil
		}
		return nil, errors.Wrapf(err, "read snapshot %s", s.path)
	}
	var pastes []*domain.Paste
	if err := json.Unmarshal(data, &pastes); err != nil {
		return nil, errors.Wrapf(domain.ErrSnapshotCorrupt, "parse snapshot %s: %v", s.path, err)
	}
	if pastes == nil {
		pastes = []*domain.Paste{}
	}
	return pastes, nil
}
