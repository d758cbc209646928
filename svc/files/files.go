// Package files owns uploaded file payloads. Each file-kind paste owns
// one directory under the data root, keyed by the paste's encoded
// identifier, holding the upload under its normalized original name.
package files

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const stagingDir = ".staging"

type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("file store root required")
	}
	if err := os.MkdirAll(filepath.Join(root, stagingDir), 0o750); err != nil {
		return nil, errors.Wrap(err, "create file store")
	}
	return &Store{root: root}, nil
}

// NormalizeName replaces whitespace in an uploaded filename and strips
// any path components a client may have smuggled in.
func NormalizeName(name string) string {
	name = filepath.Base(name)
	for _, ws := range []string{" ", "\t"} {
		name = strings.ReplaceAll(name, ws, "_")
	}
	return name
}

// Stage streams an incoming upload to a private staging file. Staging
// happens outside the paste store's lock; a payload becomes visible only
// once Commit links it under a created paste's identifier. An upload that
// dies mid-stream leaves an orphaned staging file behind.
func (s *Store) Stage(r io.Reader, limit int64) (string, int64, error) {
	staged := filepath.Join(s.root, stagingDir, uuid.New().String())
	f, err := os.Create(staged)
	if err != nil {
		return "", 0, errors.Wrap(err, "create staging file")
	}
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(staged)
		return "", 0, errors.Wrap(err, "write staging file")
	}
	if n > limit {
		os.Remove(staged)
		return "", 0, errors.New("file exceeds size limit")
	}
	return staged, n, nil
}

// Commit moves a staged payload into its paste's directory.
func (s *Store) Commit(staged, encodedID, name string) error {
	dir := filepath.Join(s.root, encodedID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrap(err, "create paste dir")
	}
	if err := os.Rename(staged, filepath.Join(dir, name)); err != nil {
		return errors.Wrap(err, "commit payload")
	}
	return nil
}

// Discard drops a staged payload that never got committed.
func (s *Store) Discard(staged string) {
	os.Remove(staged)
}

// Remove deletes a paste's payload directory. Removing a paste that
// never had a file is a no-op.
func (s *Store) Remove(encodedID string) error {
	if encodedID == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(s.root, encodedID))
}

// Path returns the on-disk location of a committed payload.
func (s *Store) Path(encodedID, name string) string {
	return filepath.Join(s.root, encodedID, name)
}
