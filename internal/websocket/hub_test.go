package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/adapters/memory"
	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/internal/auth"
	"github.com/satriahrh/cprlink/usecase"
)

type hubFixture struct {
	hub       *Hub
	store     *memory.DocumentStore
	documents *usecase.DocumentService
	issuer    *auth.Issuer
	server    *httptest.Server
	stop      context.CancelFunc
}

func setupTestHub(t *testing.T) *hubFixture {
	t.Helper()
	logger := zap.NewNop()

	store := memory.NewDocumentStore()
	documents := usecase.NewDocumentService(store, nil, logger)
	hub := NewHub(documents, logger)
	issuer := auth.NewIssuer("test-secret", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		claims, err := issuer.ValidateToken(auth.BearerToken(c.Request().Header.Get("Authorization")))
		if err != nil {
			return c.NoContent(http.StatusUnauthorized)
		}
		return HandleWebSocketWithAuth(hub, c, claims, logger)
	})
	server := httptest.NewServer(e)

	t.Cleanup(func() {
		server.Close()
		cancel()
		store.Close()
	})

	return &hubFixture{hub: hub, store: store, documents: documents, issuer: issuer, server: server, stop: cancel}
}

func (f *hubFixture) dial(t *testing.T, code string, role entities.Role) *websocket.Conn {
	t.Helper()
	token, _, err := f.issuer.GeneratePairingToken(code, role)
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.server.URL, "http")+"/ws", header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) entities.SharedAlertDocument {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		msg, err := ParseServerMessage(data)
		require.NoError(t, err)
		if snapshot, ok := msg.(*SnapshotMessage); ok {
			return snapshot.Document
		}
	}
}

func TestHub_StreamsSnapshots(t *testing.T) {
	f := setupTestHub(t)
	ctx := context.Background()

	_, err := f.documents.Write(ctx, entities.RoleCaregiver, "483920", entities.NewNormalPatch(time.Now()))
	require.NoError(t, err)

	conn := f.dial(t, "483920", entities.RoleFamily)

	initial := readSnapshot(t, conn)
	assert.Equal(t, "483920", initial.PairingCode)
	assert.Equal(t, entities.AlertStatusNormal, initial.Status)

	_, err = f.documents.Write(ctx, entities.RoleCaregiver, "483920",
		entities.NewEmergencyPatch(entities.LocationUnavailable, "0912345678", 42, time.Now()))
	require.NoError(t, err)

	update := readSnapshot(t, conn)
	assert.True(t, update.IsEmergency())
	assert.Equal(t, int64(42), update.PushTrigger)
	assert.Equal(t, 1, f.hub.ClientCount())
}

func TestHub_StoppedHubRejectsClients(t *testing.T) {
	f := setupTestHub(t)
	f.stop()

	conn := f.dial(t, "483920", entities.RoleFamily)

	var err error
	for err == nil {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = conn.ReadMessage()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "connection must be closed, not left hanging")
	}
	assert.Eventually(t, func() bool {
		return f.store.ListenerCount("483920") == 0
	}, 2*time.Second, 10*time.Millisecond, "the rejected client's subscription is released")
	assert.Equal(t, 0, f.hub.ClientCount())
}

func TestHub_PingPong(t *testing.T) {
	f := setupTestHub(t)
	conn := f.dial(t, "483920", entities.RoleCaregiver)

	payload, err := json.Marshal(PingMessage{
		BaseMessage: BaseMessage{Type: MessageTypePing, Timestamp: time.Now().Format(time.RFC3339)},
		Data:        "hello",
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	msg, err := ParseServerMessage(data)
	require.NoError(t, err)
	pong, ok := msg.(*PongMessage)
	require.True(t, ok, "expected pong, got %T", msg)
	assert.Equal(t, "hello", pong.Data)
}

func TestHub_InvalidMessageGetsError(t *testing.T) {
	f := setupTestHub(t)
	conn := f.dial(t, "483920", entities.RoleCaregiver)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"snapshot"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	msg, err := ParseServerMessage(data)
	require.NoError(t, err)
	errMsg, ok := msg.(*ErrorMessage)
	require.True(t, ok, "expected error message, got %T", msg)
	assert.Equal(t, "invalid_message", errMsg.Code)
}

func TestHub_DisconnectReleasesSubscription(t *testing.T) {
	f := setupTestHub(t)
	conn := f.dial(t, "483920", entities.RoleFamily)

	assert.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.store.ListenerCount("483920"))

	conn.Close()

	assert.Eventually(t, func() bool {
		return f.hub.ClientCount() == 0 && f.store.ListenerCount("483920") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RejectsUnauthenticated(t *testing.T) {
	f := setupTestHub(t)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.server.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
