package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/domain/repositories"
	"github.com/satriahrh/cprlink/internal/auth"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	// Devices are native apps authenticated by bearer token, not browsers
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// DocumentSubscriber streams snapshots of a shared document
type DocumentSubscriber interface {
	Subscribe(ctx context.Context, code string, listener repositories.DocumentListener) (repositories.SubscriptionID, error)
	Unsubscribe(id repositories.SubscriptionID) error
}

// Hub maintains the set of connected devices, each watching its pairing's document.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns; a restarted Run replaces it.
	stopped chan struct{}

	// Mutex for thread-safe access to clients map and stopped
	mu sync.RWMutex

	documents DocumentSubscriber
	validator *MessageValidator

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(documents DocumentSubscriber, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		documents:  documents,
		validator:  NewMessageValidator(),
		logger:     logger,
	}
}

// Run starts the hub's main loop until ctx is done
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	select {
	case <-h.stopped:
		h.stopped = make(chan struct{})
	default:
	}
	h.mu.Unlock()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Client registered",
				zap.String("clientID", client.id),
				zap.String("pairingCode", client.pairingCode),
				zap.String("role", string(client.role)))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				h.release(client)
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("clientID", client.id))

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				h.release(client)
				client.conn.Close()
			}
			close(h.stopped)
			h.mu.Unlock()
			h.logger.Info("Hub stopped")
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// stoppedSignal returns the channel closed once the current Run loop returns
func (h *Hub) stoppedSignal() <-chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stopped
}

// release drops the client's document subscription and stops its write pump
func (h *Hub) release(client *Client) {
	if err := h.documents.Unsubscribe(client.subscription); err != nil {
		h.logger.Warn("Failed to unsubscribe client",
			zap.String("clientID", client.id),
			zap.Error(err))
	}
	client.closeOnce.Do(func() { close(client.done) })
}

// WriteData is one outbound websocket frame
type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.CloseMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Closed once the client is unregistered.
	done      chan struct{}
	closeOnce sync.Once

	id           string
	pairingCode  string
	role         entities.Role
	subscription repositories.SubscriptionID

	logger *zap.Logger
}

// HandleWebSocketWithAuth upgrades a request already authenticated by claims
// and streams the pairing's document snapshots to it.
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, claims *auth.JWTClaims, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan WriteData, 16),
		done:        make(chan struct{}),
		id:          uuid.NewString(),
		pairingCode: claims.PairingCode,
		role:        claims.Role,
	}
	client.logger = logger.With(
		zap.String("clientID", client.id),
		zap.String("pairingCode", client.pairingCode))

	client.subscription, err = hub.documents.Subscribe(c.Request().Context(), client.pairingCode, client.sendSnapshot)
	if err != nil {
		client.logger.Error("Failed to subscribe client to document", zap.Error(err))
		payload, _ := json.Marshal(CreateErrorMessage("subscribe_failed", "Failed to subscribe to pairing", err.Error()))
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, payload)
		conn.Close()
		return nil
	}

	select {
	case hub.register <- client:
	case <-hub.stoppedSignal():
		client.logger.Warn("Hub stopped, rejecting client")
		hub.release(client)
		conn.Close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// sendSnapshot is the document listener for this client. It blocks while the
// send buffer is full, which lets the store coalesce intermediate snapshots.
func (c *Client) sendSnapshot(doc entities.SharedAlertDocument) {
	payload, err := json.Marshal(CreateSnapshotMessage(doc))
	if err != nil {
		c.logger.Error("Failed to encode snapshot", zap.Error(err))
		return
	}
	c.queue(payload)
}

func (c *Client) queue(payload []byte) {
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	case <-c.done:
	}
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stoppedSignal():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
			continue
		}
		c.processMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage processes incoming messages from the device
func (c *Client) processMessage(message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Rejected device message", zap.Error(err))
		payload, _ := json.Marshal(CreateErrorMessage("invalid_message", "Message rejected", err.Error()))
		c.queue(payload)
		return
	}

	switch m := msg.(type) {
	case *PingMessage:
		payload, _ := json.Marshal(CreatePongMessage(m.Data))
		c.queue(payload)
	}
}
