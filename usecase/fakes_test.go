package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/domain/repositories"
)

// recorder captures the order of side effects across collaborators
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeDialer struct {
	rec     *recorder
	mu      sync.Mutex
	numbers []string
	err     error
}

func (d *fakeDialer) Dial(ctx context.Context, number string) error {
	d.mu.Lock()
	d.numbers = append(d.numbers, number)
	d.mu.Unlock()
	if d.rec != nil {
		d.rec.add("dial:" + number)
	}
	return d.err
}

func (d *fakeDialer) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.numbers...)
}

type fakeGeolocator struct {
	position entities.Position
	err      error
	// block waits for the caller's deadline, simulating a slow GPS fix
	block bool
}

func (g *fakeGeolocator) CurrentPosition(ctx context.Context, timeout time.Duration, highAccuracy bool) (entities.Position, error) {
	if g.block {
		<-ctx.Done()
		return entities.Position{}, ctx.Err()
	}
	return g.position, g.err
}

type fakeSignal struct {
	mu     sync.Mutex
	alerts []entities.AlertViewState
}

func (s *fakeSignal) Alert(ctx context.Context, view entities.AlertViewState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, view)
	return nil
}

func (s *fakeSignal) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

type fakePushChannel struct {
	mu       sync.Mutex
	state    repositories.PermissionState
	grant    bool
	token    string
	tokenErr error
	requests int
}

func (p *fakePushChannel) PermissionStatus(ctx context.Context) (repositories.PermissionState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == "" {
		return repositories.PermissionUndetermined, nil
	}
	return p.state, nil
}

func (p *fakePushChannel) RequestPermission(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++
	if p.grant {
		p.state = repositories.PermissionGranted
	} else {
		p.state = repositories.PermissionDenied
	}
	return p.grant, nil
}

func (p *fakePushChannel) Token(ctx context.Context) (string, error) {
	return p.token, p.tokenErr
}

func (p *fakePushChannel) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

type sentPush struct {
	token        string
	notification repositories.PushNotification
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentPush
	err  error
}

func (s *fakeSender) Send(ctx context.Context, token string, notification repositories.PushNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentPush{token: token, notification: notification})
	return s.err
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// recordingStore wraps a store and records each settled write
type recordingStore struct {
	repositories.DocumentStore
	rec *recorder
	err error
}

func (s *recordingStore) SetDocument(ctx context.Context, key string, patch entities.AlertPatch) (*entities.DocumentWrite, error) {
	if s.err != nil {
		s.rec.add("write_failed")
		return nil, s.err
	}
	write, err := s.DocumentStore.SetDocument(ctx, key, patch)
	s.rec.add("write")
	return write, err
}

// gatedStore holds the caregiver pair write until release is closed
type gatedStore struct {
	repositories.DocumentStore
	release chan struct{}
}

func (s *gatedStore) SetDocument(ctx context.Context, key string, patch entities.AlertPatch) (*entities.DocumentWrite, error) {
	if patch.CaregiverPhone != nil && patch.PushTrigger == nil {
		<-s.release
	}
	return s.DocumentStore.SetDocument(ctx, key, patch)
}

type failingLedger struct{}

func (failingLedger) Swap(ctx context.Context, key string, trigger int64) (int64, error) {
	return 0, errors.New("ledger offline")
}

type countingObserver struct {
	mu      sync.Mutex
	paired  []entities.PairingSession
	cleared int
}

func (o *countingObserver) SessionPaired(ctx context.Context, session entities.PairingSession) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paired = append(o.paired, session)
}

func (o *countingObserver) SessionCleared(ctx context.Context, session entities.PairingSession) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cleared++
}

func (o *countingObserver) pairedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.paired)
}
