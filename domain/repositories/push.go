package repositories

import "context"

// PermissionState is the platform notification permission state
type PermissionState string

const (
	PermissionUndetermined PermissionState = "undetermined"
	PermissionGranted      PermissionState = "granted"
	PermissionDenied       PermissionState = "denied"
)

// PushNotification is the wake-up message delivered to a family device
type PushNotification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// PushSender delivers notifications to an opaque device token (server side)
type PushSender interface {
	Send(ctx context.Context, token string, notification PushNotification) error
}

// PushChannel is the device's platform push integration (family side)
type PushChannel interface {
	PermissionStatus(ctx context.Context) (PermissionState, error)
	// RequestPermission prompts the user and reports whether permission was granted
	RequestPermission(ctx context.Context) (bool, error)
	Token(ctx context.Context) (string, error)
}
