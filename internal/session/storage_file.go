package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DefaultStorageDir is the default directory for session state, relative to
// the user's home directory.
const DefaultStorageDir = ".config/authkeeper"

// DefaultStorageFile is the session file name inside DefaultStorageDir.
const DefaultStorageFile = "session.json"

var errCorruptSessionFile = errors.New("failed to parse session file")

// FileStorage keeps all keys in one JSON object on disk.
//
// SECURITY: the file holds tokens.
//   - The file is written with 0600 permissions (owner read/write only)
//   - The directory is created with 0700 permissions
//   - Writes go to a temporary file that is renamed into place
//   - Values are never logged
type FileStorage struct {
	mu     sync.RWMutex
	path   string
	values map[string]string
}

// DefaultStoragePath returns ~/.config/authkeeper/session.json.
func DefaultStoragePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, DefaultStorageDir, DefaultStorageFile), nil
}

// NewFileStorage opens (or prepares) the session file at path.
func NewFileStorage(path string) (*FileStorage, error) {
	if path == "" {
		var err error
		if path, err = DefaultStoragePath(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create session storage directory: %w", err)
	}

	s := &FileStorage{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the session file location.
func (s *FileStorage) Path() string {
	return s.path
}

// Reload re-reads the file. A missing file is an empty store.
func (s *FileStorage) Reload() error {
	values, err := s.read()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

func (s *FileStorage) read() (map[string]string, error) {
	// #nosec G304 -- path comes from configuration, not from a request
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	values := make(map[string]string)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("%w %s: %v", errCorruptSessionFile, s.path, err)
		}
	}
	return values, nil
}

func (s *FileStorage) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *FileStorage) Set(key, value string) error {
	return s.Apply(map[string]string{key: value}, nil)
}

func (s *FileStorage) Delete(key string) error {
	return s.Apply(nil, []string{key})
}

// Apply merges the changes into the file as it is on disk, so keys written
// by other processes since the last Reload survive, and rewrites it once.
func (s *FileStorage) Apply(set map[string]string, del []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockSessionFile(s.path)
	if err != nil {
		return err
	}
	defer unlock()

	next, err := s.read()
	if errors.Is(err, errCorruptSessionFile) {
		slog.Warn("Session file is unreadable, rewriting it from memory", "path", s.path)
		next = make(map[string]string, len(s.values))
		for k, v := range s.values {
			next[k] = v
		}
	} else if err != nil {
		return err
	}
	for k, v := range set {
		next[k] = v
	}
	for _, k := range del {
		delete(next, k)
	}

	if err := s.writeLocked(next); err != nil {
		slog.Warn("SECURITY_AUDIT: session file write failed",
			"event", "session_write_failed",
			"path", s.path,
			"error", err.Error(),
		)
		return err
	}
	s.values = next
	return nil
}

func (s *FileStorage) writeLocked(values map[string]string) error {
	if len(values) == 0 {
		err := os.Remove(s.path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove session file: %w", err)
		}
		return nil
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary session file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to restrict session file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}
