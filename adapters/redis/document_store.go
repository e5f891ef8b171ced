package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/domain/repositories"
)

// DocumentStore keeps each shared alert document in a Redis hash.
// Every write publishes a change ping on a per-document channel inside the
// same MULTI, so subscribers on any server instance see writes in order and
// re-read the latest snapshot.
type DocumentStore struct {
	client *goredis.Client
	prefix string
	logger *zap.Logger

	mu   sync.Mutex
	subs map[repositories.SubscriptionID]*subscription
}

type subscription struct {
	pubsub *goredis.PubSub
	cancel context.CancelFunc
}

// NewDocumentStore creates a Redis-backed document store
func NewDocumentStore(client *goredis.Client, keyPrefix string, logger *zap.Logger) *DocumentStore {
	return &DocumentStore{
		client: client,
		prefix: keyPrefix,
		logger: logger,
		subs:   make(map[repositories.SubscriptionID]*subscription),
	}
}

func (s *DocumentStore) documentKey(key string) string {
	return s.prefix + "pairing:" + key
}

func (s *DocumentStore) channelKey(key string) string {
	return s.prefix + "pairing:" + key + ":changes"
}

// SetDocument implements repositories.DocumentStore
func (s *DocumentStore) SetDocument(ctx context.Context, key string, patch entities.AlertPatch) (*entities.DocumentWrite, error) {
	if key == "" {
		return nil, errors.New("document key cannot be empty")
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	docKey := s.documentKey(key)
	var beforeCmd, afterCmd *goredis.StringStringMapCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		beforeCmd = pipe.HGetAll(ctx, docKey)
		pipe.HSet(ctx, docKey, encodeFields(patch.Fields()))
		afterCmd = pipe.HGetAll(ctx, docKey)
		pipe.Publish(ctx, s.channelKey(key), key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write document %s: %w", key, err)
	}

	write := &entities.DocumentWrite{}
	if before := beforeCmd.Val(); len(before) > 0 {
		doc, err := decodeDocument(key, before)
		if err != nil {
			return nil, err
		}
		write.Before = doc
	}
	after, err := decodeDocument(key, afterCmd.Val())
	if err != nil {
		return nil, err
	}
	write.After = *after
	return write, nil
}

// GetDocument implements repositories.DocumentStore
func (s *DocumentStore) GetDocument(ctx context.Context, key string) (*entities.SharedAlertDocument, error) {
	values, err := s.client.HGetAll(ctx, s.documentKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", key, err)
	}
	if len(values) == 0 {
		return nil, entities.ErrDocumentNotFound
	}
	return decodeDocument(key, values)
}

// AddDocumentListener implements repositories.DocumentStore
func (s *DocumentStore) AddDocumentListener(ctx context.Context, key string, listener repositories.DocumentListener) (repositories.SubscriptionID, error) {
	if listener == nil {
		return "", errors.New("listener cannot be nil")
	}

	pubsub := s.client.Subscribe(ctx, s.channelKey(key))
	// Wait for the subscription confirmation so no write is missed after return
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return "", fmt.Errorf("failed to subscribe to document %s: %w", key, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	id := repositories.SubscriptionID(uuid.NewString())

	s.mu.Lock()
	s.subs[id] = &subscription{pubsub: pubsub, cancel: cancel}
	s.mu.Unlock()

	go s.listen(loopCtx, key, pubsub, listener)

	s.logger.Debug("Document listener added",
		zap.String("pairing_code", key),
		zap.String("subscription_id", string(id)))
	return id, nil
}

func (s *DocumentStore) listen(ctx context.Context, key string, pubsub *goredis.PubSub, listener repositories.DocumentListener) {
	deliver := func() {
		doc, err := s.GetDocument(ctx, key)
		if err != nil {
			if !errors.Is(err, entities.ErrDocumentNotFound) && ctx.Err() == nil {
				s.logger.Warn("Failed to read document for listener",
					zap.String("pairing_code", key),
					zap.Error(err))
			}
			return
		}
		listener(*doc)
	}

	changes := pubsub.Channel()
	deliver()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			deliver()
		}
	}
}

// RemoveDocumentListener implements repositories.DocumentStore
func (s *DocumentStore) RemoveDocumentListener(id repositories.SubscriptionID) error {
	s.mu.Lock()
	sub, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()

	if !ok {
		return errors.New("subscription not found")
	}
	sub.cancel()
	return sub.pubsub.Close()
}

// Close removes every listener
func (s *DocumentStore) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[repositories.SubscriptionID]*subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		sub.pubsub.Close()
	}
}

func encodeFields(fields map[string]interface{}) map[string]interface{} {
	encoded := make(map[string]interface{}, len(fields))
	for name, value := range fields {
		switch v := value.(type) {
		case time.Time:
			encoded[name] = v.UTC().Format(time.RFC3339Nano)
		case int64:
			encoded[name] = strconv.FormatInt(v, 10)
		default:
			encoded[name] = fmt.Sprint(v)
		}
	}
	return encoded
}

func decodeDocument(key string, values map[string]string) (*entities.SharedAlertDocument, error) {
	doc := &entities.SharedAlertDocument{
		PairingCode:    key,
		Status:         entities.AlertStatus(values[entities.FieldStatus]),
		Location:       values[entities.FieldLocation],
		CaregiverPhone: values[entities.FieldCaregiverPhone],
		FamilyToken:    values[entities.FieldFamilyToken],
	}
	if doc.Status == "" {
		doc.Status = entities.AlertStatusNormal
	}

	if raw := values[entities.FieldPushTrigger]; raw != "" {
		trigger, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid pushTrigger %q in document %s: %w", raw, key, err)
		}
		doc.PushTrigger = trigger
	}
	if raw := values[entities.FieldLastUpdated]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid lastUpdated %q in document %s: %w", raw, key, err)
		}
		doc.LastUpdated = ts
	}
	return doc, nil
}
