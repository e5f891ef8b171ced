package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/domain/entities"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestDocumentStore_SetDocument_CreateAndMerge(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewDocumentStore(client, "cprlink:", zap.NewNop())
	defer store.Close()
	ctx := context.Background()

	now := time.Date(2026, 10, 17, 8, 30, 0, 123000000, time.UTC)
	write, err := store.SetDocument(ctx, "483920", entities.NewEmergencyPatch("25.033964,121.564468", "0912345678", 1760689800123, now))
	require.NoError(t, err)
	assert.Nil(t, write.Before)
	assert.Equal(t, entities.AlertStatusEmergency, write.After.Status)
	assert.Equal(t, int64(1760689800123), write.After.PushTrigger)
	assert.True(t, now.Equal(write.After.LastUpdated))

	// Raw hash layout is shared with any other reader of the store
	assert.Equal(t, "EMERGENCY", mr.HGet("cprlink:pairing:483920", "status"))
	assert.Equal(t, "1760689800123", mr.HGet("cprlink:pairing:483920", "pushTrigger"))

	token := "token-abc"
	write, err = store.SetDocument(ctx, "483920", entities.AlertPatch{FamilyToken: &token})
	require.NoError(t, err)
	require.NotNil(t, write.Before)
	assert.Empty(t, write.Before.FamilyToken)
	assert.Equal(t, "token-abc", write.After.FamilyToken)
	assert.Equal(t, "0912345678", write.After.CaregiverPhone)

	doc, err := store.GetDocument(ctx, "483920")
	require.NoError(t, err)
	assert.Equal(t, write.After.PushTrigger, doc.PushTrigger)
	assert.Equal(t, "token-abc", doc.FamilyToken)
}

func TestDocumentStore_CreatedWithoutStatusIsNormal(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewDocumentStore(client, "cprlink:", zap.NewNop())
	defer store.Close()
	ctx := context.Background()

	phone := "0912345678"
	write, err := store.SetDocument(ctx, "483920", entities.AlertPatch{CaregiverPhone: &phone})
	require.NoError(t, err)
	assert.Equal(t, entities.AlertStatusNormal, write.After.Status)
	assert.Empty(t, mr.HGet("cprlink:pairing:483920", "status"), "status is not stored until a patch sets it")

	doc, err := store.GetDocument(ctx, "483920")
	require.NoError(t, err)
	assert.Equal(t, entities.AlertStatusNormal, doc.Status)
}

func TestDocumentStore_GetDocument_NotFound(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewDocumentStore(client, "cprlink:", zap.NewNop())

	_, err := store.GetDocument(context.Background(), "000000")
	assert.ErrorIs(t, err, entities.ErrDocumentNotFound)

	_, err = store.SetDocument(context.Background(), "000000", entities.AlertPatch{})
	assert.ErrorIs(t, err, entities.ErrEmptyPatch)
}

func TestDocumentStore_ListenerFollowsWrites(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewDocumentStore(client, "cprlink:", zap.NewNop())
	defer store.Close()
	ctx := context.Background()

	_, err := store.SetDocument(ctx, "483920", entities.NewNormalPatch(time.Now()))
	require.NoError(t, err)

	var mu sync.Mutex
	var docs []entities.SharedAlertDocument
	id, err := store.AddDocumentListener(ctx, "483920", func(doc entities.SharedAlertDocument) {
		mu.Lock()
		defer mu.Unlock()
		docs = append(docs, doc)
	})
	require.NoError(t, err)

	latest := func() entities.SharedAlertDocument {
		mu.Lock()
		defer mu.Unlock()
		if len(docs) == 0 {
			return entities.SharedAlertDocument{}
		}
		return docs[len(docs)-1]
	}

	require.Eventually(t, func() bool { return latest().Status == entities.AlertStatusNormal }, 2*time.Second, 10*time.Millisecond)

	_, err = store.SetDocument(ctx, "483920", entities.NewEmergencyPatch(entities.LocationUnavailable, "0912345678", 7, time.Now()))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		doc := latest()
		return doc.Status == entities.AlertStatusEmergency && doc.PushTrigger == 7
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, store.RemoveDocumentListener(id))
	assert.Error(t, store.RemoveDocumentListener(id))
}

func TestTriggerLedger_Swap(t *testing.T) {
	mr, client := setupTestRedis(t)
	ledger := NewTriggerLedger(client, "cprlink:", time.Hour)
	ctx := context.Background()

	prev, err := ledger.Swap(ctx, "483920", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), prev)

	prev, err = ledger.Swap(ctx, "483920", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), prev)

	prev, err = ledger.Swap(ctx, "483920", 200)
	require.NoError(t, err)
	assert.Equal(t, int64(100), prev)

	assert.Equal(t, time.Hour, mr.TTL("cprlink:push:last:483920"))
}
