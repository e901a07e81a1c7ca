// ABOUTME: Durable atomic record store: JSON written to a temp file then renamed
// ABOUTME: A crash never leaves a partially written record behind

// Package durable persists a single JSON record crash-safely. The record is
// written to a temp file in the same directory, synced and renamed over the
// target, so readers see either the old or the new record, never a mix.
package durable

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// ErrCorrupt marks a record file that exists but cannot be decoded.
var ErrCorrupt = errors.New("corrupt record")

// Store holds one record of type T at path.
type Store[T any] struct {
	path string
	mu   sync.Mutex
}

// New returns a store for path. Nothing is touched until Save or Load.
func New[T any](path string) *Store[T] {
	return &Store[T]{path: path}
}

// Path returns the record location.
func (s *Store[T]) Path() string {
	return s.path
}

// Load reads the record. A missing file yields the zero value and ok=false.
func (s *Store[T]) Load() (T, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v T
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("reading %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("decoding %s: %w: %w", s.path, ErrCorrupt, err)
	}
	return v, true, nil
}

// SetAside renames the record file to path + ".corrupt" so a fresh record can
// be written. Returns the new location.
func (s *Store[T]) SetAside() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	aside := s.path + ".corrupt"
	if err := os.Rename(s.path, aside); err != nil {
		return "", fmt.Errorf("setting aside %s: %w", s.path, err)
	}
	return aside, nil
}

// Save atomically replaces the record.
func (s *Store[T]) Save(v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return WriteJSON(s.path, v)
}

// WriteJSON marshals v and atomically replaces path with it.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
