package repositories

import (
	"context"
	"errors"
)

// Keys held in the local session store
const (
	SessionKeyRole           = "role"
	SessionKeyPairingCode    = "pairingCode"
	SessionKeyCaregiverPhone = "caregiverPhone"
)

// ErrSessionKeyNotFound is returned by SessionStore.Get for missing keys
var ErrSessionKeyNotFound = errors.New("session key not found")

// SessionStore is durable on-device key/value storage that survives restarts
type SessionStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
