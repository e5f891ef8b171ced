package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/domain/repositories"
)

// DocumentService is the server write path for shared documents
type DocumentService struct {
	store      repositories.DocumentStore
	dispatcher *PushDispatcher
	now        func() time.Time
	logger     *zap.Logger
}

// NewDocumentService creates the server write path. dispatcher may be nil.
func NewDocumentService(store repositories.DocumentStore, dispatcher *PushDispatcher, logger *zap.Logger) *DocumentService {
	return &DocumentService{
		store:      store,
		dispatcher: dispatcher,
		now:        time.Now,
		logger:     logger,
	}
}

// Get returns the document for code
func (s *DocumentService) Get(ctx context.Context, code string) (*entities.SharedAlertDocument, error) {
	if err := entities.ValidatePairingCode(code); err != nil {
		return nil, err
	}
	return s.store.GetDocument(ctx, code)
}

// Write applies patch on behalf of role and queues the write for push dispatch
func (s *DocumentService) Write(ctx context.Context, role entities.Role, code string, patch entities.AlertPatch) (*entities.DocumentWrite, error) {
	if err := entities.ValidatePairingCode(code); err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	if err := patch.CheckWritableBy(role); err != nil {
		return nil, err
	}
	if patch.LastUpdated == nil {
		now := s.now()
		patch.LastUpdated = &now
	}

	write, err := s.store.SetDocument(ctx, code, patch)
	if err != nil {
		return nil, err
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.Enqueue(ctx, *write); err != nil {
			s.logger.Error("Failed to queue write for push dispatch",
				zap.String("pairing_code", code),
				zap.Error(err))
		}
	}

	s.logger.Debug("Shared document updated",
		zap.String("pairing_code", code),
		zap.String("role", string(role)),
		zap.String("status", string(write.After.Status)))
	return write, nil
}

// Subscribe streams snapshots of code to listener until Unsubscribe
func (s *DocumentService) Subscribe(ctx context.Context, code string, listener repositories.DocumentListener) (repositories.SubscriptionID, error) {
	if err := entities.ValidatePairingCode(code); err != nil {
		return "", err
	}
	return s.store.AddDocumentListener(ctx, code, listener)
}

// Unsubscribe removes a listener added by Subscribe
func (s *DocumentService) Unsubscribe(id repositories.SubscriptionID) error {
	return s.store.RemoveDocumentListener(id)
}
