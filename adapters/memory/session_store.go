package memory

import (
	"context"
	"sync"

	"github.com/satriahrh/cprlink/domain/repositories"
)

// SessionStore is a volatile repositories.SessionStore for tests and ephemeral devices
type SessionStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSessionStore creates an empty in-memory session store
func NewSessionStore() *SessionStore {
	return &SessionStore{values: make(map[string]string)}
}

// Get implements repositories.SessionStore
func (s *SessionStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.values[key]
	if !exists {
		return "", repositories.ErrSessionKeyNotFound
	}
	return value, nil
}

// Set implements repositories.SessionStore
func (s *SessionStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Remove implements repositories.SessionStore
func (s *SessionStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
