package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/domain/repositories"
)

const (
	DefaultEmergencyNumber = "119"
	DefaultLocationTimeout = 3 * time.Second
)

// CaregiverConfig tunes the caregiver alert path
type CaregiverConfig struct {
	EmergencyNumber string
	LocationTimeout time.Duration
	WriteTimeout    time.Duration
}

// CaregiverService raises emergencies from the caregiver device
type CaregiverService struct {
	mu      sync.RWMutex
	session *entities.PairingSession

	// serializes alert writes so the document always ends on the newest trigger
	writeMu sync.Mutex

	dialer     repositories.Dialer
	geolocator repositories.Geolocator
	clock      *TriggerClock
	writer     *backgroundWriter
	config     CaregiverConfig
	now        func() time.Time
	logger     *zap.Logger
}

// NewCaregiverService creates the caregiver side of the alert engine
func NewCaregiverService(
	store repositories.DocumentStore,
	dialer repositories.Dialer,
	geolocator repositories.Geolocator,
	config CaregiverConfig,
	logger *zap.Logger,
) *CaregiverService {
	if config.EmergencyNumber == "" {
		config.EmergencyNumber = DefaultEmergencyNumber
	}
	if config.LocationTimeout <= 0 {
		config.LocationTimeout = DefaultLocationTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}

	return &CaregiverService{
		dialer:     dialer,
		geolocator: geolocator,
		clock:      NewTriggerClock(nil),
		writer:     newBackgroundWriter(store, config.LocationTimeout+config.WriteTimeout, logger),
		config:     config,
		now:        time.Now,
		logger:     logger,
	}
}

// SessionPaired implements SessionObserver
func (s *CaregiverService) SessionPaired(ctx context.Context, session entities.PairingSession) {
	if session.Role != entities.RoleCaregiver {
		return
	}
	s.mu.Lock()
	s.session = &session
	s.mu.Unlock()
}

// SessionCleared implements SessionObserver
func (s *CaregiverService) SessionCleared(ctx context.Context, session entities.PairingSession) {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
}

// RaiseAlert places the emergency call and then, without waiting, publishes the
// emergency to the shared document. A failed write never affects the call.
// The returned error only reports a failure to start the call.
func (s *CaregiverService) RaiseAlert(ctx context.Context) error {
	s.mu.RLock()
	session := s.session
	s.mu.RUnlock()
	if session == nil {
		return entities.ErrNotPaired
	}

	dialErr := s.dialer.Dial(ctx, s.config.EmergencyNumber)
	if dialErr != nil {
		s.logger.Error("Failed to start emergency call",
			zap.String("number", s.config.EmergencyNumber),
			zap.Error(dialErr))
	}

	code, phone := session.PairingCode, session.CaregiverPhone
	s.writer.Go(func(ctx context.Context) {
		location := s.locate(ctx)

		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		trigger := s.clock.Next()
		patch := entities.NewEmergencyPatch(location, phone, trigger, s.now())
		s.writer.write(ctx, code, patch, "raise_alert")

		s.logger.Info("Emergency alert raised",
			zap.String("pairing_code", code),
			zap.Int64("push_trigger", trigger))
	})

	return dialErr
}

// Wait blocks until in-flight alert writes settle
func (s *CaregiverService) Wait() {
	s.writer.Wait()
}

func (s *CaregiverService) locate(ctx context.Context) string {
	if s.geolocator == nil {
		return entities.LocationUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.LocationTimeout)
	defer cancel()

	position, err := s.geolocator.CurrentPosition(ctx, s.config.LocationTimeout, true)
	if err != nil {
		s.logger.Warn("Location unavailable for alert", zap.Error(err))
		return entities.LocationUnavailable
	}
	return position.String()
}
