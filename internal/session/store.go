// Package session provides session-scoped key-value storage.
package session

import (
	"context"
	"sync"
)

// Store is the contract for session-scoped storage. All values live under a
// (session id, key) pair; a missing value is reported via the found flag,
// not an error.
type Store interface {
	Get(ctx context.Context, sessionID, key string) ([]byte, bool, error)
	Set(ctx context.Context, sessionID, key string, value []byte) error
	Delete(ctx context.Context, sessionID, key string) error
}

// MemoryStore keeps session data in process memory. Used in tests and when
// no database is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string][]byte),
	}
}

// Get returns the value stored for the session under key.
func (s *MemoryStore) Get(_ context.Context, sessionID, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values, ok := s.data[sessionID]
	if !ok {
		return nil, false, nil
	}
	v, ok := values[key]
	if !ok {
		return nil, false, nil
	}

	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set stores the value for the session under key, replacing any previous one.
func (s *MemoryStore) Set(_ context.Context, sessionID, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, ok := s.data[sessionID]
	if !ok {
		values = make(map[string][]byte)
		s.data[sessionID] = values
	}

	v := make([]byte, len(value))
	copy(v, value)
	values[key] = v
	return nil
}

// Delete removes the value stored for the session under key.
func (s *MemoryStore) Delete(_ context.Context, sessionID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if values, ok := s.data[sessionID]; ok {
		delete(values, key)
		if len(values) == 0 {
			delete(s.data, sessionID)
		}
	}
	return nil
}
