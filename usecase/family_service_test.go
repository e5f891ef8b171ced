package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/adapters/memory"
	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/domain/repositories"
)

const testCode = "483920"

func emergencyDoc(trigger int64) entities.SharedAlertDocument {
	return entities.SharedAlertDocument{
		PairingCode:    testCode,
		Status:         entities.AlertStatusEmergency,
		Location:       "25.033964,121.564468",
		CaregiverPhone: "0912345678",
		PushTrigger:    trigger,
	}
}

func newPairedFamily(t *testing.T, store repositories.DocumentStore, push repositories.PushChannel) (*FamilyAlertService, *fakeSignal) {
	t.Helper()
	signal := &fakeSignal{}
	svc := NewFamilyAlertService(store, push, signal, time.Second, zap.NewNop())
	svc.SessionPaired(context.Background(), entities.PairingSession{
		Role:        entities.RoleFamily,
		PairingCode: testCode,
		Confirmed:   true,
	})
	return svc, signal
}

func TestFamilyAlertService_AlarmsOnEveryEmergencySnapshot(t *testing.T) {
	store := memory.NewDocumentStore()
	defer store.Close()
	svc, signal := newPairedFamily(t, store, nil)

	const n = 5
	for i := 1; i <= n; i++ {
		svc.HandleSnapshot(emergencyDoc(int64(1700000000000 + i)))
	}

	assert.Equal(t, n, signal.count())
	view := svc.View()
	assert.True(t, view.IsAlertActive)
	assert.Equal(t, int64(1700000000000+n), view.PushTrigger)
	assert.Equal(t, "0912345678", view.CallbackPhone)
}

func TestFamilyAlertService_DuplicateSnapshotStaysActive(t *testing.T) {
	store := memory.NewDocumentStore()
	defer store.Close()
	svc, signal := newPairedFamily(t, store, nil)

	svc.HandleSnapshot(emergencyDoc(1))
	svc.HandleSnapshot(emergencyDoc(1))

	assert.True(t, svc.View().IsAlertActive)
	assert.Equal(t, 2, signal.count(), "level detection re-alarms on a restated snapshot")
}

func TestFamilyAlertService_NormalSnapshotIsIdempotent(t *testing.T) {
	store := memory.NewDocumentStore()
	defer store.Close()
	svc, signal := newPairedFamily(t, store, nil)

	var views []entities.AlertViewState
	svc.OnChange(func(view entities.AlertViewState) { views = append(views, view) })

	normal := entities.SharedAlertDocument{PairingCode: testCode, Status: entities.AlertStatusNormal}
	svc.HandleSnapshot(normal)
	svc.HandleSnapshot(emergencyDoc(1))
	svc.HandleSnapshot(normal)
	svc.HandleSnapshot(normal)

	assert.False(t, svc.View().IsAlertActive)
	assert.Equal(t, 1, signal.count())
	require.Len(t, views, 2)
	assert.True(t, views[0].IsAlertActive)
	assert.False(t, views[1].IsAlertActive)
}

func TestFamilyAlertService_OnChangeMayReadView(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDocumentStore()
	defer store.Close()
	svc, _ := newPairedFamily(t, store, nil)

	var seen []entities.AlertViewState
	svc.OnChange(func(view entities.AlertViewState) {
		seen = append(seen, svc.View())
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.HandleSnapshot(emergencyDoc(1))
		_ = svc.DismissAlert(ctx)
		svc.SessionCleared(ctx, entities.PairingSession{Role: entities.RoleFamily, PairingCode: testCode})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reading the view from the change callback deadlocked")
	}
	svc.Wait()

	require.Len(t, seen, 2)
	assert.True(t, seen[0].IsAlertActive)
	assert.False(t, seen[1].IsAlertActive)
}

func TestFamilyAlertService_IgnoresOtherPairings(t *testing.T) {
	store := memory.NewDocumentStore()
	defer store.Close()
	svc, signal := newPairedFamily(t, store, nil)

	other := emergencyDoc(1)
	other.PairingCode = "111111"
	svc.HandleSnapshot(other)

	assert.False(t, svc.View().IsAlertActive)
	assert.Zero(t, signal.count())
}

func TestFamilyAlertService_DismissTwice(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDocumentStore()
	defer store.Close()

	_, err := store.SetDocument(ctx, testCode, entities.NewEmergencyPatch("here", "0912", 1, time.Now()))
	require.NoError(t, err)

	svc, _ := newPairedFamily(t, store, nil)
	assert.Eventually(t, func() bool { return svc.View().IsAlertActive }, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.DismissAlert(ctx))
	assert.False(t, svc.View().IsAlertActive, "dismissal is optimistic")
	require.NoError(t, svc.DismissAlert(ctx))
	svc.Wait()

	assert.False(t, svc.View().IsAlertActive)
	doc, err := store.GetDocument(ctx, testCode)
	require.NoError(t, err)
	assert.Equal(t, entities.AlertStatusNormal, doc.Status)
}

func TestFamilyAlertService_DismissedTriggerDoesNotReAlarm(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewDocumentStore()
	defer inner.Close()
	// the reset write fails so no NORMAL snapshot races the assertions
	store := &recordingStore{DocumentStore: inner, rec: &recorder{}, err: fmt.Errorf("offline")}
	svc, signal := newPairedFamily(t, store, nil)

	svc.HandleSnapshot(emergencyDoc(1))
	require.NoError(t, svc.DismissAlert(ctx))

	// a snapshot still carrying the dismissed trigger is stale
	svc.HandleSnapshot(emergencyDoc(1))
	assert.False(t, svc.View().IsAlertActive)
	assert.Equal(t, 1, signal.count())

	// a new emergency always alarms
	svc.HandleSnapshot(emergencyDoc(2))
	assert.True(t, svc.View().IsAlertActive)
	assert.Equal(t, 2, signal.count())
	svc.Wait()
}

func TestFamilyAlertService_DismissConvergesForCaregiver(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDocumentStore()
	defer store.Close()

	_, err := store.SetDocument(ctx, testCode, entities.NewEmergencyPatch(entities.LocationUnavailable, "0912", 1, time.Now()))
	require.NoError(t, err)

	svc, _ := newPairedFamily(t, store, nil)
	assert.Eventually(t, func() bool { return svc.View().IsAlertActive }, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.DismissAlert(ctx))
	svc.Wait()

	var mu sync.Mutex
	var seen []entities.AlertStatus
	id, err := store.AddDocumentListener(ctx, testCode, func(doc entities.SharedAlertDocument) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, doc.Status)
	})
	require.NoError(t, err)
	defer store.RemoveDocumentListener(id)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, entities.AlertStatusNormal, seen[0])
	mu.Unlock()
}

func TestFamilyAlertService_PushPathConvergesWithListener(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDocumentStore()
	defer store.Close()

	_, err := store.SetDocument(ctx, testCode, entities.NewEmergencyPatch("here", "0912", 7, time.Now()))
	require.NoError(t, err)
	doc, err := store.GetDocument(ctx, testCode)
	require.NoError(t, err)

	listenerSide, _ := newPairedFamily(t, memory.NewDocumentStore(), nil)
	listenerSide.HandleSnapshot(*doc)

	// a woken device whose subscription was lost
	pushSide := NewFamilyAlertService(store, nil, &fakeSignal{}, time.Second, zap.NewNop())
	pushSide.mu.Lock()
	pushSide.pairedCode = testCode
	pushSide.mu.Unlock()
	pushSide.session = &entities.PairingSession{Role: entities.RoleFamily, PairingCode: testCode}
	require.False(t, pushSide.Attached())

	require.NoError(t, pushSide.HandlePushNotification(ctx, NewAlertNotification(*doc)))

	assert.True(t, pushSide.Attached(), "notification re-attaches the subscription")
	assert.Equal(t, listenerSide.View(), pushSide.View())
}

func TestFamilyAlertService_PushNotificationRequiresPairing(t *testing.T) {
	svc := NewFamilyAlertService(memory.NewDocumentStore(), nil, &fakeSignal{}, time.Second, zap.NewNop())
	err := svc.HandlePushNotification(context.Background(), repositories.PushNotification{})
	assert.ErrorIs(t, err, entities.ErrNotPaired)
	assert.ErrorIs(t, svc.DismissAlert(context.Background()), entities.ErrNotPaired)
}

func TestFamilyAlertService_SyncThenDismissSuppressesStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDocumentStore()
	defer store.Close()

	svc := NewFamilyAlertService(store, nil, &fakeSignal{}, time.Second, zap.NewNop())
	assert.ErrorIs(t, svc.Sync(ctx), entities.ErrNotPaired)

	svc.SessionPaired(ctx, entities.PairingSession{Role: entities.RoleFamily, PairingCode: testCode, Confirmed: true})
	require.NoError(t, svc.Sync(ctx), "a missing document is not an error")
	assert.False(t, svc.View().IsAlertActive)

	_, err := store.SetDocument(ctx, testCode, entities.NewEmergencyPatch("here", "0912", 9, time.Now()))
	require.NoError(t, err)
	require.NoError(t, svc.Sync(ctx))
	require.True(t, svc.View().IsAlertActive)

	require.NoError(t, svc.DismissAlert(ctx))
	svc.HandleSnapshot(emergencyDoc(9))
	assert.False(t, svc.View().IsAlertActive)

	svc.Wait()
	doc, err := store.GetDocument(ctx, testCode)
	require.NoError(t, err)
	assert.Equal(t, entities.AlertStatusNormal, doc.Status)
}

func TestFamilyAlertService_RegisterForPush(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDocumentStore()
	defer store.Close()

	tests := []struct {
		name      string
		push      *fakePushChannel
		want      bool
		wantToken string
		prompts   int
	}{
		{name: "granted", push: &fakePushChannel{grant: true, token: "t1"}, want: true, wantToken: "t1", prompts: 1},
		{name: "already granted", push: &fakePushChannel{state: repositories.PermissionGranted, token: "t2"}, want: true, wantToken: "t2"},
		{name: "denied", push: &fakePushChannel{grant: false, token: "t3"}, prompts: 1},
		{name: "token failure", push: &fakePushChannel{grant: true, tokenErr: fmt.Errorf("offline")}, want: true, prompts: 1},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := fmt.Sprintf("10000%d", i)
			svc := NewFamilyAlertService(store, tt.push, &fakeSignal{}, time.Second, zap.NewNop())

			assert.Equal(t, tt.want, svc.RegisterForPush(ctx, code))
			svc.Wait()
			assert.Equal(t, tt.prompts, tt.push.requestCount())

			doc, err := store.GetDocument(ctx, code)
			if tt.wantToken == "" {
				assert.ErrorIs(t, err, entities.ErrDocumentNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, doc.FamilyToken)
		})
	}
}

func TestFamilyAlertService_WithoutPushChannel(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDocumentStore()
	defer store.Close()

	svc, _ := newPairedFamily(t, store, nil)
	assert.False(t, svc.RegisterForPush(ctx, testCode))
	svc.RefreshPushToken(ctx, testCode)
	svc.Wait()

	_, err := store.GetDocument(ctx, testCode)
	assert.ErrorIs(t, err, entities.ErrDocumentNotFound, "nothing is published without a push channel")
}

func TestFamilyAlertService_RefreshPushTokenNeverPrompts(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDocumentStore()
	defer store.Close()

	push := &fakePushChannel{grant: true, token: "t1"}
	svc := NewFamilyAlertService(store, push, &fakeSignal{}, time.Second, zap.NewNop())

	svc.RefreshPushToken(ctx, testCode)
	svc.Wait()
	assert.Zero(t, push.requestCount())
	_, err := store.GetDocument(ctx, testCode)
	assert.ErrorIs(t, err, entities.ErrDocumentNotFound)

	push.state = repositories.PermissionGranted
	push.token = "rotated"
	svc.RefreshPushToken(ctx, testCode)
	svc.Wait()

	doc, err := store.GetDocument(ctx, testCode)
	require.NoError(t, err)
	assert.Equal(t, "rotated", doc.FamilyToken)
	assert.Zero(t, push.requestCount())
}
