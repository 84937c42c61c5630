// Package filestore persists one record per key as a file under a directory,
// the host key-value primitive for processes sharing local state. Its Watcher
// turns filesystem notifications into the external-change signals the store
// core consumes, so separate processes pointed at the same directory stay in
// sync.
package filestore

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const tmpPrefix = ".pstate-tmp-"

// Store implements the storage primitive over a directory. Keys are
// path-escaped into file names; writes are atomic (temp file + rename) so a
// concurrent reader never observes a torn record.
type Store struct {
	dir string

	mu      sync.Mutex
	written map[string]string
	removed map[string]struct{}
}

// New creates the directory when missing and returns a Store over it.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("filestore: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create %q: %w", dir, err)
	}
	return &Store{
		dir:     dir,
		written: map[string]string{},
		removed: map[string]struct{}{},
	}, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string {
	return s.dir
}

// Read returns the record stored under key, reporting absence without error.
func (s *Store) Read(key string) (string, bool, error) {
	raw, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("filestore: read %q: %w", key, err)
	}
	return string(raw), true, nil
}

// Write stores value under key atomically.
func (s *Store) Write(key, value string) error {
	tmp, err := os.CreateTemp(s.dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("filestore: write %q: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("filestore: write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filestore: write %q: %w", key, err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filestore: write %q: %w", key, err)
	}

	s.mu.Lock()
	s.written[key] = value
	delete(s.removed, key)
	s.mu.Unlock()
	return nil
}

// Remove deletes the record under key. Removing an absent record is not an
// error.
func (s *Store) Remove(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filestore: remove %q: %w", key, err)
	}

	s.mu.Lock()
	delete(s.written, key)
	s.removed[key] = struct{}{}
	s.mu.Unlock()
	return nil
}

// selfWrote reports whether the current content of key matches this
// instance's last write, meaning a filesystem event for it is an echo of our
// own mutation rather than another context's.
func (s *Store) selfWrote(key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.written[key]
	return ok && last == value
}

func (s *Store) selfRemoved(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.removed[key]
	return ok
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key))
}

func keyFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, tmpPrefix) {
		return "", false
	}
	key, err := url.PathUnescape(name)
	if err != nil {
		return "", false
	}
	return key, true
}
