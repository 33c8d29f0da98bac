package session

import (
	"sort"
	"sync"
)

// Storage is a flat string key/value store that survives restarts.
type Storage interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)

	// Set stores value under key.
	Set(key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// BatchStorage is implemented by backends that can apply several writes at once.
type BatchStorage interface {
	Storage

	// Apply sets every entry of set and removes every key in del in one write.
	Apply(set map[string]string, del []string) error
}

// Reloader is implemented by backends that cache their contents and can
// re-read them after another process changed them.
type Reloader interface {
	Reload() error
}

// applyBatch writes through BatchStorage when available and falls back to
// individual Set/Delete calls otherwise.
func applyBatch(s Storage, set map[string]string, del []string) error {
	if b, ok := s.(BatchStorage); ok {
		return b.Apply(set, del)
	}
	for _, k := range sortedKeys(set) {
		if err := s.Set(k, set[k]); err != nil {
			return err
		}
	}
	for _, k := range del {
		if err := s.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MemoryStorage keeps values in process memory only.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemoryStorage) Apply(set map[string]string, del []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range set {
		s.values[k] = v
	}
	for _, k := range del {
		delete(s.values, k)
	}
	return nil
}

// Len returns the number of stored keys.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
