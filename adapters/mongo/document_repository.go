package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/adapters/fanout"
	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/domain/repositories"
)

// DefaultCollection holds one document per pairing, keyed by pairing code
const DefaultCollection = "pairings"

// DocumentRepository persists shared alert documents in MongoDB.
// Change notification is fanned out in-process by the instance that performed the write.
// Writes and subscriptions are serialized so listeners observe snapshots in write order.
type DocumentRepository struct {
	mu         sync.Mutex
	collection *mongo.Collection
	listeners  *fanout.Registry
	logger     *zap.Logger
}

// NewDocumentRepository creates a new MongoDB document repository
func NewDocumentRepository(db *mongo.Database, collection string, logger *zap.Logger) *DocumentRepository {
	if collection == "" {
		collection = DefaultCollection
	}
	return &DocumentRepository{
		collection: db.Collection(collection),
		listeners:  fanout.NewRegistry(),
		logger:     logger,
	}
}

// SetDocument implements repositories.DocumentStore
func (r *DocumentRepository) SetDocument(ctx context.Context, key string, patch entities.AlertPatch) (*entities.DocumentWrite, error) {
	if key == "" {
		return nil, errors.New("document key cannot be empty")
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	// $set with upsert is an atomic merge; the pre-image gives Before, and
	// After follows from applying the same patch to it.
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.Before)

	update := bson.M{"$set": bson.M(patch.Fields())}
	if patch.Status == nil {
		update["$setOnInsert"] = bson.M{entities.FieldStatus: string(entities.AlertStatusNormal)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	write := &entities.DocumentWrite{}
	var before entities.SharedAlertDocument
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": key}, update, opts).Decode(&before)
	switch {
	case err == nil:
		write.Before = &before
		write.After = patch.ApplyTo(before)
	case errors.Is(err, mongo.ErrNoDocuments):
		write.After = patch.ApplyTo(entities.NewSharedAlertDocument(key))
	default:
		return nil, fmt.Errorf("failed to write document %s: %w", key, err)
	}

	r.listeners.Notify(key, write.After)
	return write, nil
}

// GetDocument implements repositories.DocumentStore
func (r *DocumentRepository) GetDocument(ctx context.Context, key string) (*entities.SharedAlertDocument, error) {
	var doc entities.SharedAlertDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, entities.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document %s: %w", key, err)
	}
	return &doc, nil
}

// AddDocumentListener implements repositories.DocumentStore
func (r *DocumentRepository) AddDocumentListener(ctx context.Context, key string, listener repositories.DocumentListener) (repositories.SubscriptionID, error) {
	if listener == nil {
		return "", errors.New("listener cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.listeners.Add(key, listener)
	doc, err := r.GetDocument(ctx, key)
	switch {
	case err == nil:
		r.listeners.Deliver(id, *doc)
	case errors.Is(err, entities.ErrDocumentNotFound):
	default:
		r.listeners.Remove(id)
		return "", err
	}
	return id, nil
}

// RemoveDocumentListener implements repositories.DocumentStore
func (r *DocumentRepository) RemoveDocumentListener(id repositories.SubscriptionID) error {
	if !r.listeners.Remove(id) {
		return errors.New("subscription not found")
	}
	return nil
}

// Close drops every listener
func (r *DocumentRepository) Close() {
	r.listeners.Close()
}
