package repositories

import (
	"context"

	"github.com/satriahrh/cprlink/domain/entities"
)

// SubscriptionID identifies a document listener registration
type SubscriptionID string

// DocumentListener receives full document snapshots, never diffs
type DocumentListener func(doc entities.SharedAlertDocument)

// DocumentStore abstracts the shared state document store addressed by pairing code
type DocumentStore interface {
	// SetDocument merge-writes patch into the document at key, creating it if needed
	SetDocument(ctx context.Context, key string, patch entities.AlertPatch) (*entities.DocumentWrite, error)
	// GetDocument returns entities.ErrDocumentNotFound when no document exists
	GetDocument(ctx context.Context, key string) (*entities.SharedAlertDocument, error)
	// AddDocumentListener delivers the current snapshot (if any) and every later change.
	// Intermediate snapshots may be coalesced; order is preserved.
	AddDocumentListener(ctx context.Context, key string, listener DocumentListener) (SubscriptionID, error)
	RemoveDocumentListener(id SubscriptionID) error
}

// TriggerLedger remembers the last pushTrigger observed per document
type TriggerLedger interface {
	// Swap stores trigger for key and returns the previously stored value (0 if none)
	Swap(ctx context.Context, key string, trigger int64) (int64, error)
}
