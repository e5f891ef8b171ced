package repositories

import (
	"context"
	"time"

	"github.com/satriahrh/cprlink/domain/entities"
)

// Geolocator reads the device position
type Geolocator interface {
	CurrentPosition(ctx context.Context, timeout time.Duration, highAccuracy bool) (entities.Position, error)
}

// Dialer starts a telephone call to a literal number
type Dialer interface {
	Dial(ctx context.Context, number string) error
}

// AttentionSignal vibrates and plays the alarm tone
type AttentionSignal interface {
	Alert(ctx context.Context, view entities.AlertViewState) error
}
