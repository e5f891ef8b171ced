package api

import "time"

// DeviceAuthRequest represents the request payload for device authentication
type DeviceAuthRequest struct {
	PairingCode string `json:"pairing_code"`
	Role        string `json:"role"`
}

// DeviceAuthResponse represents the response payload for device authentication
type DeviceAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
