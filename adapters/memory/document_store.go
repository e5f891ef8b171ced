package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/satriahrh/cprlink/adapters/fanout"
	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/domain/repositories"
)

// DocumentStore is an in-memory implementation of repositories.DocumentStore.
// It backs single-instance servers and tests.
type DocumentStore struct {
	mu        sync.RWMutex
	documents map[string]entities.SharedAlertDocument
	listeners *fanout.Registry
}

// NewDocumentStore creates an empty in-memory document store
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents: make(map[string]entities.SharedAlertDocument),
		listeners: fanout.NewRegistry(),
	}
}

// SetDocument implements repositories.DocumentStore
func (s *DocumentStore) SetDocument(ctx context.Context, key string, patch entities.AlertPatch) (*entities.DocumentWrite, error) {
	if key == "" {
		return nil, errors.New("document key cannot be empty")
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	write := &entities.DocumentWrite{}
	current, exists := s.documents[key]
	if exists {
		before := current
		write.Before = &before
	} else {
		current = entities.NewSharedAlertDocument(key)
	}

	write.After = patch.ApplyTo(current)
	s.documents[key] = write.After

	// Notify under the write lock so listeners observe writes in order
	s.listeners.Notify(key, write.After)

	return write, nil
}

// GetDocument implements repositories.DocumentStore
func (s *DocumentStore) GetDocument(ctx context.Context, key string) (*entities.SharedAlertDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.documents[key]
	if !exists {
		return nil, entities.ErrDocumentNotFound
	}
	return &doc, nil
}

// AddDocumentListener implements repositories.DocumentStore
func (s *DocumentStore) AddDocumentListener(ctx context.Context, key string, listener repositories.DocumentListener) (repositories.SubscriptionID, error) {
	if key == "" {
		return "", errors.New("document key cannot be empty")
	}
	if listener == nil {
		return "", errors.New("listener cannot be nil")
	}

	// Hold the write lock so no write slips between the initial snapshot and registration
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.listeners.Add(key, listener)
	if doc, exists := s.documents[key]; exists {
		s.listeners.Deliver(id, doc)
	}
	return id, nil
}

// RemoveDocumentListener implements repositories.DocumentStore
func (s *DocumentStore) RemoveDocumentListener(id repositories.SubscriptionID) error {
	if !s.listeners.Remove(id) {
		return errors.New("subscription not found")
	}
	return nil
}

// ListenerCount returns how many listeners are attached to key
func (s *DocumentStore) ListenerCount(key string) int {
	return s.listeners.Count(key)
}

// Close drops every listener
func (s *DocumentStore) Close() {
	s.listeners.Close()
}
