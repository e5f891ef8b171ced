// Package remote is the device-side view of the shared document store. Writes
// and reads go over the server's REST API; listeners hold a WebSocket that is
// re-dialed after every drop until the listener is removed.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/domain/repositories"
	"github.com/satriahrh/cprlink/internal/api"
	ws "github.com/satriahrh/cprlink/internal/websocket"
)

const (
	writeWait   = 10 * time.Second
	readTimeout = 90 * time.Second

	// refresh tokens this long before they expire
	tokenSkew = time.Minute
)

// Config configures the remote store
type Config struct {
	ServerURL      string
	Role           entities.Role
	Timeout        time.Duration
	ReconnectDelay time.Duration
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// DocumentStore implements repositories.DocumentStore against a cprlink server
type DocumentStore struct {
	httpClient     *resty.Client
	dialer         *websocket.Dialer
	wsURL          string
	role           entities.Role
	reconnectDelay time.Duration
	logger         *zap.Logger

	mu     sync.Mutex
	tokens map[string]cachedToken
	subs   map[repositories.SubscriptionID]context.CancelFunc
	wg     sync.WaitGroup
}

// NewDocumentStore creates a remote store acting as role
func NewDocumentStore(cfg Config, logger *zap.Logger) (*DocumentStore, error) {
	if !cfg.Role.Valid() {
		return nil, entities.ErrInvalidRole
	}

	base, err := url.Parse(strings.TrimRight(cfg.ServerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	wsURL := *base
	switch base.Scheme {
	case "http":
		wsURL.Scheme = "ws"
	case "https":
		wsURL.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported server url scheme %q", base.Scheme)
	}
	wsURL.Path += "/ws"

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(base.String()).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &DocumentStore{
		httpClient:     httpClient,
		dialer:         &websocket.Dialer{HandshakeTimeout: cfg.Timeout},
		wsURL:          wsURL.String(),
		role:           cfg.Role,
		reconnectDelay: cfg.ReconnectDelay,
		logger:         logger,
		tokens:         make(map[string]cachedToken),
		subs:           make(map[repositories.SubscriptionID]context.CancelFunc),
	}, nil
}

// SetDocument implements repositories.DocumentStore
func (s *DocumentStore) SetDocument(ctx context.Context, key string, patch entities.AlertPatch) (*entities.DocumentWrite, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	if err := patch.CheckWritableBy(s.role); err != nil {
		return nil, err
	}

	var write entities.DocumentWrite
	resp, err := s.authorized(ctx, key, func(req *resty.Request) (*resty.Response, error) {
		return req.SetBody(patch).SetResult(&write).Patch("/api/v1/pairings/{code}")
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, responseError(resp)
	}
	return &write, nil
}

// GetDocument implements repositories.DocumentStore
func (s *DocumentStore) GetDocument(ctx context.Context, key string) (*entities.SharedAlertDocument, error) {
	var doc entities.SharedAlertDocument
	resp, err := s.authorized(ctx, key, func(req *resty.Request) (*resty.Response, error) {
		return req.SetResult(&doc).Get("/api/v1/pairings/{code}")
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, responseError(resp)
	}
	return &doc, nil
}

// AddDocumentListener implements repositories.DocumentStore. The listener
// receives the current snapshot on every (re)connect, then each change.
func (s *DocumentStore) AddDocumentListener(ctx context.Context, key string, listener repositories.DocumentListener) (repositories.SubscriptionID, error) {
	if listener == nil {
		return "", errors.New("listener cannot be nil")
	}
	// authenticate up front so a bad code fails the call instead of the background loop
	if _, err := s.token(ctx, key, false); err != nil {
		return "", err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	id := repositories.SubscriptionID(uuid.NewString())

	s.mu.Lock()
	s.subs[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watch(loopCtx, key, listener)
	}()

	return id, nil
}

// RemoveDocumentListener implements repositories.DocumentStore
func (s *DocumentStore) RemoveDocumentListener(id repositories.SubscriptionID) error {
	s.mu.Lock()
	cancel, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()

	if !ok {
		return errors.New("subscription not found")
	}
	cancel()
	return nil
}

// Close stops every listener and waits for their connections to close
func (s *DocumentStore) Close() {
	s.mu.Lock()
	for id, cancel := range s.subs {
		cancel()
		delete(s.subs, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *DocumentStore) watch(ctx context.Context, key string, listener repositories.DocumentListener) {
	logger := s.logger.With(zap.String("pairing_code", key))
	for {
		err := s.stream(ctx, key, listener)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Document stream dropped, reconnecting",
			zap.Duration("delay", s.reconnectDelay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

// stream holds one WebSocket connection until it drops or ctx is done
func (s *DocumentStore) stream(ctx context.Context, key string, listener repositories.DocumentListener) error {
	token, err := s.token(ctx, key, false)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := s.dialer.DialContext(ctx, s.wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			s.forgetToken(key)
		}
		return fmt.Errorf("failed to dial %s: %w", s.wsURL, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	s.logger.Info("Document stream connected", zap.String("pairing_code", key))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		msg, err := ws.ParseServerMessage(data)
		if err != nil {
			s.logger.Warn("Ignoring malformed server message", zap.Error(err))
			continue
		}

		switch m := msg.(type) {
		case *ws.SnapshotMessage:
			if m.Document.PairingCode != key {
				s.logger.Warn("Ignoring snapshot for another pairing",
					zap.String("pairing_code", key),
					zap.String("received", m.Document.PairingCode))
				continue
			}
			listener(m.Document)
		case *ws.ErrorMessage:
			return fmt.Errorf("server error %s: %s", m.Code, m.Message)
		}
	}
}

// authorized runs do with a bearer token for key, re-authenticating once on 401
func (s *DocumentStore) authorized(ctx context.Context, key string, do func(*resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	if err := entities.ValidatePairingCode(key); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		token, err := s.token(ctx, key, attempt > 0)
		if err != nil {
			return nil, err
		}

		req := s.httpClient.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetPathParam("code", key).
			SetError(&api.ErrorResponse{})
		resp, err := do(req)
		if err != nil {
			return nil, fmt.Errorf("request to %s failed: %w", s.httpClient.BaseURL, err)
		}
		if resp.StatusCode() == http.StatusUnauthorized && attempt == 0 {
			continue
		}
		return resp, nil
	}
}

// token returns a cached pairing token for key, requesting a new one when needed
func (s *DocumentStore) token(ctx context.Context, key string, refresh bool) (string, error) {
	s.mu.Lock()
	cached, ok := s.tokens[key]
	s.mu.Unlock()
	if ok && !refresh && time.Now().Add(tokenSkew).Before(cached.expiresAt) {
		return cached.value, nil
	}

	var result api.DeviceAuthResponse
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(api.DeviceAuthRequest{PairingCode: key, Role: string(s.role)}).
		SetResult(&result).
		SetError(&api.ErrorResponse{}).
		Post("/api/v1/device/auth")
	if err != nil {
		return "", fmt.Errorf("device auth failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("device auth rejected: %w", responseError(resp))
	}

	s.mu.Lock()
	s.tokens[key] = cachedToken{value: result.Token, expiresAt: result.ExpiresAt}
	s.mu.Unlock()
	return result.Token, nil
}

func (s *DocumentStore) forgetToken(key string) {
	s.mu.Lock()
	delete(s.tokens, key)
	s.mu.Unlock()
}

// responseError maps an API error response back onto the domain sentinels
func responseError(resp *resty.Response) error {
	message := resp.Status()
	if body, ok := resp.Error().(*api.ErrorResponse); ok && body.Error != "" {
		message = body.Error + ": " + body.Message
	}

	switch resp.StatusCode() {
	case http.StatusNotFound:
		return entities.ErrDocumentNotFound
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", entities.ErrFieldNotWritable, message)
	default:
		return fmt.Errorf("server returned %d: %s", resp.StatusCode(), message)
	}
}
