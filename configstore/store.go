// Package configstore persists the key/value configuration emitted by
// dependency injection so running components can retrieve it.
package configstore

import (
	"context"
	"sync"
)

// Store is the write-side interface used by configuration injection.
type Store interface {
	Put(ctx context.Context, path, value string) error
}

// MemoryStore keeps configuration in memory. Used in tests and as the
// default when no external store is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Put stores a value under path.
func (s *MemoryStore) Put(_ context.Context, path, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[path] = value
	return nil
}

// Get returns the value stored under path.
func (s *MemoryStore) Get(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[path]
	return v, ok
}

// Len returns the number of stored values.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
