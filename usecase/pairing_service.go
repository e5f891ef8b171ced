package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/domain/repositories"
)

// SessionObserver receives the pairing session when it is established or torn down
type SessionObserver interface {
	SessionPaired(ctx context.Context, session entities.PairingSession)
	SessionCleared(ctx context.Context, session entities.PairingSession)
}

// PushRegistrar registers the family device for push wake-ups
type PushRegistrar interface {
	// RegisterForPush may prompt the user and reports whether permission was granted
	RegisterForPush(ctx context.Context, pairingCode string) bool
	// RefreshPushToken re-publishes the token only if permission is already granted
	RefreshPushToken(ctx context.Context, pairingCode string)
}

// PairingService owns the pairing state machine and the device's PairingSession
type PairingService struct {
	mu      sync.Mutex
	state   entities.PairingState
	session entities.PairingSession

	sessions  repositories.SessionStore
	codes     *entities.PairingCodeGenerator
	push      PushRegistrar
	observers []SessionObserver
	writer    *backgroundWriter
	now       func() time.Time
	logger    *zap.Logger
}

// NewPairingService creates a pairing state machine in the Unselected state.
// push may be nil on devices without a push channel.
func NewPairingService(
	sessions repositories.SessionStore,
	store repositories.DocumentStore,
	codes *entities.PairingCodeGenerator,
	push PushRegistrar,
	logger *zap.Logger,
	observers ...SessionObserver,
) *PairingService {
	return &PairingService{
		state:     entities.PairingStateUnselected,
		sessions:  sessions,
		codes:     codes,
		push:      push,
		observers: observers,
		writer:    newBackgroundWriter(store, defaultWriteTimeout, logger),
		now:       time.Now,
		logger:    logger,
	}
}

// State returns the current pairing state
func (s *PairingService) State() entities.PairingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns a copy of the current session
func (s *PairingService) Session() entities.PairingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Resume restores a persisted session and jumps straight to Paired.
// It reports false when nothing valid is persisted. Resuming the session the
// service is already paired with does nothing.
func (s *PairingService) Resume(ctx context.Context) (entities.PairingSession, bool, error) {
	stored, ok, err := s.loadSession(ctx)
	if err != nil || !ok {
		return entities.PairingSession{}, false, err
	}

	s.mu.Lock()
	if s.state == entities.PairingStatePaired {
		current := s.session
		s.mu.Unlock()
		if current == stored {
			return current, true, nil
		}
		return entities.PairingSession{}, false, fmt.Errorf("%w: already paired with %s", entities.ErrInvalidTransition, current.PairingCode)
	}
	s.state = entities.PairingStatePaired
	s.session = stored
	s.mu.Unlock()

	s.logger.Info("Pairing resumed from local session",
		zap.String("role", string(stored.Role)),
		zap.String("pairing_code", stored.PairingCode))

	s.notifyPaired(ctx, stored)
	if stored.Role == entities.RoleFamily && s.push != nil {
		s.push.RefreshPushToken(ctx, stored.PairingCode)
	}
	return stored, true, nil
}

// ChooseRole leaves Unselected. A caregiver immediately receives a fresh pairing code.
func (s *PairingService) ChooseRole(ctx context.Context, role entities.Role) (entities.PairingSession, error) {
	if !role.Valid() {
		return entities.PairingSession{}, fmt.Errorf("%w: %q", entities.ErrInvalidRole, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != entities.PairingStateUnselected {
		return entities.PairingSession{}, fmt.Errorf("%w: cannot choose role while %s", entities.ErrInvalidTransition, s.state)
	}

	switch role {
	case entities.RoleCaregiver:
		code, err := s.codes.Generate()
		if err != nil {
			return entities.PairingSession{}, err
		}
		s.session = entities.PairingSession{Role: role, PairingCode: code}
		s.state = entities.PairingStateAwaitingConfirmation
	case entities.RoleFamily:
		s.session = entities.PairingSession{Role: role}
		s.state = entities.PairingStateRoleChosen
	}

	s.logger.Info("Pairing role chosen",
		zap.String("role", string(role)),
		zap.String("state", string(s.state)))
	return s.session, nil
}

// EnterCode records the code typed on the family device
func (s *PairingService) EnterCode(code string) error {
	if err := entities.ValidatePairingCode(code); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Role != entities.RoleFamily ||
		(s.state != entities.PairingStateRoleChosen && s.state != entities.PairingStateAwaitingConfirmation) {
		return fmt.Errorf("%w: cannot enter code while %s", entities.ErrInvalidTransition, s.state)
	}

	s.session.PairingCode = code
	s.state = entities.PairingStateAwaitingConfirmation
	return nil
}

// SetCaregiverPhone records the caregiver's callback number
func (s *PairingService) SetCaregiverPhone(phone string) error {
	phone, err := entities.NormalizePhone(phone)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Role != entities.RoleCaregiver || s.state != entities.PairingStateAwaitingConfirmation {
		return fmt.Errorf("%w: cannot set phone while %s", entities.ErrInvalidTransition, s.state)
	}

	s.session.CaregiverPhone = phone
	return nil
}

// Confirm completes pairing. The caregiver confirm is a local affirmation;
// the family confirm requests push permission first, and a denial does not block.
func (s *PairingService) Confirm(ctx context.Context) (entities.PairingSession, error) {
	s.mu.Lock()

	if s.state != entities.PairingStateAwaitingConfirmation {
		state := s.state
		s.mu.Unlock()
		return entities.PairingSession{}, fmt.Errorf("%w: cannot confirm while %s", entities.ErrInvalidTransition, state)
	}

	session := s.session
	if session.Role == entities.RoleCaregiver && session.CaregiverPhone == "" {
		s.mu.Unlock()
		return entities.PairingSession{}, entities.ErrPhoneRequired
	}
	session.Confirmed = true

	if session.Role == entities.RoleFamily {
		granted := false
		if s.push != nil {
			granted = s.push.RegisterForPush(ctx, session.PairingCode)
		}
		if !granted {
			s.logger.Warn("Notification permission not granted, alerts will only arrive while the app is open",
				zap.String("pairing_code", session.PairingCode))
		}
	}

	if err := s.persist(ctx, session); err != nil {
		s.mu.Unlock()
		return entities.PairingSession{}, err
	}

	if session.Role == entities.RoleCaregiver {
		// status is left out so a late pair write cannot reset a raised alert;
		// the document is created NORMAL
		now := s.now()
		phone := session.CaregiverPhone
		s.writer.Submit(session.PairingCode, entities.AlertPatch{
			CaregiverPhone: &phone,
			LastUpdated:    &now,
		}, "pair")
	}

	s.session = session
	s.state = entities.PairingStatePaired
	s.mu.Unlock()

	s.logger.Info("Pairing confirmed",
		zap.String("role", string(session.Role)),
		zap.String("pairing_code", session.PairingCode))

	s.notifyPaired(ctx, session)
	return session, nil
}

// Unpair clears the local session and returns to Unselected. A family device
// also resets the shared document to NORMAL.
func (s *PairingService) Unpair(ctx context.Context) error {
	s.mu.Lock()

	if s.state != entities.PairingStatePaired {
		s.mu.Unlock()
		return entities.ErrNotPaired
	}
	session := s.session

	for _, key := range []string{
		repositories.SessionKeyRole,
		repositories.SessionKeyPairingCode,
		repositories.SessionKeyCaregiverPhone,
	} {
		if err := s.sessions.Remove(ctx, key); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to clear local session: %w", err)
		}
	}

	if session.Role == entities.RoleFamily {
		s.writer.Submit(session.PairingCode, entities.NewNormalPatch(s.now()), "unpair")
	}

	s.session = entities.PairingSession{}
	s.state = entities.PairingStateUnselected
	s.mu.Unlock()

	s.logger.Info("Unpaired",
		zap.String("role", string(session.Role)),
		zap.String("pairing_code", session.PairingCode))

	for _, observer := range s.observers {
		observer.SessionCleared(ctx, session)
	}
	return nil
}

// Wait blocks until in-flight writes settle
func (s *PairingService) Wait() {
	s.writer.Wait()
}

func (s *PairingService) notifyPaired(ctx context.Context, session entities.PairingSession) {
	for _, observer := range s.observers {
		observer.SessionPaired(ctx, session)
	}
}

func (s *PairingService) persist(ctx context.Context, session entities.PairingSession) error {
	if err := s.sessions.Set(ctx, repositories.SessionKeyRole, string(session.Role)); err != nil {
		return fmt.Errorf("failed to persist role: %w", err)
	}
	if err := s.sessions.Set(ctx, repositories.SessionKeyPairingCode, session.PairingCode); err != nil {
		return fmt.Errorf("failed to persist pairing code: %w", err)
	}
	if session.CaregiverPhone != "" {
		if err := s.sessions.Set(ctx, repositories.SessionKeyCaregiverPhone, session.CaregiverPhone); err != nil {
			return fmt.Errorf("failed to persist caregiver phone: %w", err)
		}
	} else if err := s.sessions.Remove(ctx, repositories.SessionKeyCaregiverPhone); err != nil {
		return fmt.Errorf("failed to clear caregiver phone: %w", err)
	}
	return nil
}

func (s *PairingService) loadSession(ctx context.Context) (entities.PairingSession, bool, error) {
	role, err := s.sessions.Get(ctx, repositories.SessionKeyRole)
	if errors.Is(err, repositories.ErrSessionKeyNotFound) {
		return entities.PairingSession{}, false, nil
	}
	if err != nil {
		return entities.PairingSession{}, false, fmt.Errorf("failed to read role: %w", err)
	}

	code, err := s.sessions.Get(ctx, repositories.SessionKeyPairingCode)
	if errors.Is(err, repositories.ErrSessionKeyNotFound) {
		return entities.PairingSession{}, false, nil
	}
	if err != nil {
		return entities.PairingSession{}, false, fmt.Errorf("failed to read pairing code: %w", err)
	}

	phone, err := s.sessions.Get(ctx, repositories.SessionKeyCaregiverPhone)
	if err != nil && !errors.Is(err, repositories.ErrSessionKeyNotFound) {
		return entities.PairingSession{}, false, fmt.Errorf("failed to read caregiver phone: %w", err)
	}

	session := entities.PairingSession{
		Role:           entities.Role(role),
		PairingCode:    code,
		Confirmed:      true,
		CaregiverPhone: phone,
	}
	if err := session.Validate(); err != nil {
		s.logger.Warn("Ignoring invalid persisted session", zap.Error(err))
		return entities.PairingSession{}, false, nil
	}
	return session, true, nil
}
