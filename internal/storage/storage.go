// Package storage provides atomic file-based JSON record storage.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
)

// Store persists named JSON records under a base directory.
// Writes are atomic: a concurrent Get never observes a partially
// written record.
type Store struct {
	baseDir string
	mu      sync.Mutex
	locks   map[string]*FileLock
}

// New creates a Store rooted at baseDir. The directory is created lazily
// on the first Put.
func New(baseDir string) *Store {
	return &Store{
		baseDir: baseDir,
		locks:   make(map[string]*FileLock),
	}
}

// BaseDir returns the directory the store writes into.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) recordPath(name string) string {
	return filepath.Join(s.baseDir, name+".json")
}

// Get reads the record with the given name into v.
// Returns ErrNotFound when the record does not exist.
func (s *Store) Get(name string, v any) error {
	data, err := os.ReadFile(s.recordPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read record: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return nil
}

// Put writes v as the record with the given name. The record is written
// to a temp file and renamed into place so readers never see a torn write.
func (s *Store) Put(name string, v any) error {
	path := s.recordPath(name)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	lock := s.getLock(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename record: %w", err)
	}

	return nil
}

// Delete removes the record with the given name. Deleting a record that
// does not exist is not an error.
func (s *Store) Delete(name string) error {
	path := s.recordPath(name)

	lock := s.getLock(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete record: %w", err)
	}

	return nil
}

// Exists reports whether a record with the given name exists.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.recordPath(name))
	return err == nil
}

// List returns the names of all records in the store.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}

	return names, nil
}

// getLock returns the file lock guarding a record path.
func (s *Store) getLock(path string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[path]
	if !ok {
		lock = NewFileLock(path)
		s.locks[path] = lock
	}

	return lock
}
