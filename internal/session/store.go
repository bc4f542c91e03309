// Package session persists the participant's identity between runs.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/scrum-poker/scrumpoker/pkg/domain"
)

// FileName is the store's file name inside the state directory.
const FileName = "session.yaml"

// Store reads and writes one session file.
type Store struct {
	path string
}

// New returns a store backed by dir/session.yaml.
func New(dir string) *Store {
	return &Store{path: filepath.Join(dir, FileName)}
}

// DefaultDir returns ~/.scrumpoker.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".scrumpoker"), nil
}

// Path returns the file the store uses.
func (s *Store) Path() string {
	return s.path
}

// Load returns the saved session. A missing file yields an empty session.
func (s *Store) Load() (domain.Session, error) {
	var sess domain.Session
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return sess, nil
	}
	if err != nil {
		return sess, fmt.Errorf("session.Load: %w", err)
	}
	if err := yaml.Unmarshal(data, &sess); err != nil {
		return domain.Session{}, fmt.Errorf("session.Load: parse %s: %w", s.path, err)
	}
	return sess, nil
}

// Save replaces the saved session.
func (s *Store) Save(sess domain.Session) error {
	data, err := yaml.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session.Save: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("session.Save: create dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("session.Save: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("session.Save: %w", err)
	}
	return nil
}

// Has reports whether a complete session is saved.
func (s *Store) Has() bool {
	sess, err := s.Load()
	return err == nil && sess.Complete()
}

// Clear removes the saved session. Clearing an empty store is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session.Clear: %w", err)
	}
	return nil
}
