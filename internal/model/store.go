package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Store reads and writes artifact files in one directory.
type Store struct {
	fs  afero.Fs
	dir string
}

// NewStore returns a store rooted at dir on fs.
func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// Exists reports whether the named file is present.
func (s *Store) Exists(name string) (bool, error) {
	return afero.Exists(s.fs, s.path(name))
}

// Read returns the contents of the named file.
func (s *Store) Read(name string) ([]byte, error) {
	return afero.ReadFile(s.fs, s.path(name))
}

// Write replaces the named file. The data is written to a temporary
// file first and renamed into place.
func (s *Store) Write(name string, data []byte) error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp := s.path(name + ".tmp")
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := s.fs.Rename(tmp, s.path(name)); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Remove deletes the named file. A missing file is not an error.
func (s *Store) Remove(name string) error {
	err := s.fs.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
