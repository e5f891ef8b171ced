// Package console simulates the phone platform for the cprlink CLI: calls,
// GPS, vibration and notification permission are printed or read from config.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/domain/repositories"
)

var ErrNoPositionFix = errors.New("no position fix available")

// Dialer prints the number it would call
type Dialer struct {
	out    io.Writer
	logger *zap.Logger
}

// NewDialer creates a console dialer
func NewDialer(out io.Writer, logger *zap.Logger) *Dialer {
	return &Dialer{out: out, logger: logger}
}

// Dial implements repositories.Dialer
func (d *Dialer) Dial(ctx context.Context, number string) error {
	if number == "" {
		return errors.New("number cannot be empty")
	}
	d.logger.Info("Placing emergency call", zap.String("number", number))
	_, err := fmt.Fprintf(d.out, "📞 Calling tel:%s\n", number)
	return err
}

// Geolocator returns a configured fix, or fails after the timeout when there is none
type Geolocator struct {
	position *entities.Position
}

// NewGeolocator creates a geolocator; a nil position simulates no GPS fix
func NewGeolocator(position *entities.Position) *Geolocator {
	return &Geolocator{position: position}
}

// CurrentPosition implements repositories.Geolocator
func (g *Geolocator) CurrentPosition(ctx context.Context, timeout time.Duration, highAccuracy bool) (entities.Position, error) {
	if g.position != nil {
		return *g.position, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return entities.Position{}, ErrNoPositionFix
	case <-ctx.Done():
		return entities.Position{}, ctx.Err()
	}
}

// AttentionSignal rings the terminal bell and prints the alert
type AttentionSignal struct {
	mu  sync.Mutex
	out io.Writer
}

// NewAttentionSignal creates a console attention signal
func NewAttentionSignal(out io.Writer) *AttentionSignal {
	return &AttentionSignal{out: out}
}

// Alert implements repositories.AttentionSignal
func (a *AttentionSignal) Alert(ctx context.Context, view entities.AlertViewState) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := fmt.Fprintf(a.out, "\a🚨 EMERGENCY  location: %s  call back: %s\n",
		valueOr(view.AlertLocation, entities.LocationUnavailable),
		valueOr(view.CallbackPhone, "-"))
	return err
}

// PushChannel models notification permission with a fixed user answer
type PushChannel struct {
	mu    sync.Mutex
	allow bool
	token string
	state repositories.PermissionState
}

// NewPushChannel creates a push channel that answers permission prompts with allow
func NewPushChannel(token string, allow bool) *PushChannel {
	return &PushChannel{
		allow: allow,
		token: token,
		state: repositories.PermissionUndetermined,
	}
}

// PermissionStatus implements repositories.PushChannel
func (p *PushChannel) PermissionStatus(ctx context.Context) (repositories.PermissionState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, nil
}

// RequestPermission implements repositories.PushChannel
func (p *PushChannel) RequestPermission(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allow {
		p.state = repositories.PermissionGranted
	} else {
		p.state = repositories.PermissionDenied
	}
	return p.allow, nil
}

// Token implements repositories.PushChannel
func (p *PushChannel) Token(ctx context.Context) (string, error) {
	if p.token == "" {
		return "", errors.New("no push token configured")
	}
	return p.token, nil
}

// Grant marks permission as already granted, as on a restarted device
func (p *PushChannel) Grant() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allow {
		p.state = repositories.PermissionGranted
	}
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
