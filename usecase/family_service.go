package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/domain/repositories"
)

// FamilyAlertService is the family side of the alert engine. Every EMERGENCY
// snapshot re-alarms; the only exception is the trigger this device already dismissed.
type FamilyAlertService struct {
	// notifyMu serializes view transitions together with their callbacks,
	// which run after mu is released
	notifyMu sync.Mutex

	mu               sync.Mutex
	pairedCode       string
	view             entities.AlertViewState
	dismissedTrigger int64
	onChange         func(entities.AlertViewState)

	subMu        sync.Mutex
	session      *entities.PairingSession
	subscription repositories.SubscriptionID

	store  repositories.DocumentStore
	push   repositories.PushChannel
	signal repositories.AttentionSignal
	writer *backgroundWriter
	now    func() time.Time
	logger *zap.Logger
}

// NewFamilyAlertService creates the family side of the alert engine.
// push is an untyped nil on devices without a push channel.
func NewFamilyAlertService(
	store repositories.DocumentStore,
	push repositories.PushChannel,
	signal repositories.AttentionSignal,
	writeTimeout time.Duration,
	logger *zap.Logger,
) *FamilyAlertService {
	return &FamilyAlertService{
		store:  store,
		push:   push,
		signal: signal,
		writer: newBackgroundWriter(store, writeTimeout, logger),
		now:    time.Now,
		logger: logger,
	}
}

// OnChange registers fn to receive every view transition, in order. fn may call
// View but must not dismiss or otherwise change the view.
func (s *FamilyAlertService) OnChange(fn func(entities.AlertViewState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// View returns the current alert view
func (s *FamilyAlertService) View() entities.AlertViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// SessionPaired implements SessionObserver by subscribing to the pairing's document
func (s *FamilyAlertService) SessionPaired(ctx context.Context, session entities.PairingSession) {
	if session.Role != entities.RoleFamily {
		return
	}

	s.mu.Lock()
	s.pairedCode = session.PairingCode
	s.mu.Unlock()

	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.session = &session
	s.attachLocked(ctx)
}

// SessionCleared implements SessionObserver by dropping the subscription and the view
func (s *FamilyAlertService) SessionCleared(ctx context.Context, session entities.PairingSession) {
	s.subMu.Lock()
	if s.subscription != "" {
		if err := s.store.RemoveDocumentListener(s.subscription); err != nil {
			s.logger.Warn("Failed to remove document listener",
				zap.String("subscription_id", string(s.subscription)),
				zap.Error(err))
		}
		s.subscription = ""
	}
	s.session = nil
	s.subMu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.pairedCode = ""
	s.dismissedTrigger = 0
	changed := s.setViewLocked(entities.AlertViewState{})
	onChange := s.onChange
	s.mu.Unlock()

	if changed && onChange != nil {
		onChange(entities.AlertViewState{})
	}
}

// Attached reports whether a document subscription is live
func (s *FamilyAlertService) Attached() bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.subscription != ""
}

// HandleSnapshot classifies a full document snapshot delivered by the store
func (s *FamilyAlertService) HandleSnapshot(doc entities.SharedAlertDocument) {
	s.classify(context.Background(), doc)
}

// HandlePushNotification handles a received or tapped push notification by
// syncing with the current document. Notifications for another pairing are ignored.
func (s *FamilyAlertService) HandlePushNotification(ctx context.Context, notification repositories.PushNotification) error {
	s.subMu.Lock()
	session := s.session
	s.subMu.Unlock()
	if session == nil {
		return entities.ErrNotPaired
	}
	if target := notification.Data["pairingCode"]; target != "" && target != session.PairingCode {
		s.logger.Warn("Ignoring notification for another pairing",
			zap.String("pairing_code", session.PairingCode),
			zap.String("target", target))
		return nil
	}
	return s.Sync(ctx)
}

// Sync re-attaches the subscription if needed and classifies the current
// document through the same path as the listener.
func (s *FamilyAlertService) Sync(ctx context.Context) error {
	s.subMu.Lock()
	if s.session == nil {
		s.subMu.Unlock()
		return entities.ErrNotPaired
	}
	code := s.session.PairingCode
	if s.subscription == "" {
		s.attachLocked(ctx)
	}
	s.subMu.Unlock()

	doc, err := s.store.GetDocument(ctx, code)
	if errors.Is(err, entities.ErrDocumentNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("Failed to fetch shared document",
			zap.String("pairing_code", code),
			zap.Error(err))
		return nil
	}

	s.classify(ctx, *doc)
	return nil
}

// DismissAlert hides the alarm immediately and resets the shared document in the background
func (s *FamilyAlertService) DismissAlert(ctx context.Context) error {
	s.subMu.Lock()
	session := s.session
	s.subMu.Unlock()
	if session == nil {
		return entities.ErrNotPaired
	}

	s.notifyMu.Lock()
	s.mu.Lock()
	if s.view.IsAlertActive {
		s.dismissedTrigger = s.view.PushTrigger
	}
	changed := s.setViewLocked(entities.AlertViewState{})
	onChange := s.onChange
	s.mu.Unlock()

	if changed && onChange != nil {
		onChange(entities.AlertViewState{})
	}
	s.notifyMu.Unlock()

	s.writer.Submit(session.PairingCode, entities.NewNormalPatch(s.now()), "dismiss_alert")
	return nil
}

// RegisterForPush implements PushRegistrar. It prompts for permission when it
// has not been granted yet and publishes the token on grant. Safe to repeat.
func (s *FamilyAlertService) RegisterForPush(ctx context.Context, pairingCode string) bool {
	if s.push == nil {
		return false
	}

	state, err := s.push.PermissionStatus(ctx)
	if err != nil {
		s.logger.Warn("Failed to read notification permission", zap.Error(err))
	}

	granted := state == repositories.PermissionGranted
	if !granted {
		granted, err = s.push.RequestPermission(ctx)
		if err != nil {
			s.logger.Warn("Notification permission request failed", zap.Error(err))
			return false
		}
	}
	if !granted {
		s.logger.Info("Notification permission denied", zap.String("pairing_code", pairingCode))
		return false
	}

	s.publishToken(ctx, pairingCode)
	return true
}

// RefreshPushToken implements PushRegistrar. It never prompts.
func (s *FamilyAlertService) RefreshPushToken(ctx context.Context, pairingCode string) {
	if s.push == nil {
		return
	}

	state, err := s.push.PermissionStatus(ctx)
	if err != nil {
		s.logger.Warn("Failed to read notification permission", zap.Error(err))
		return
	}
	if state != repositories.PermissionGranted {
		return
	}
	s.publishToken(ctx, pairingCode)
}

// Wait blocks until in-flight writes settle
func (s *FamilyAlertService) Wait() {
	s.writer.Wait()
}

func (s *FamilyAlertService) publishToken(ctx context.Context, pairingCode string) {
	token, err := s.push.Token(ctx)
	if err != nil || token == "" {
		s.logger.Warn("Push token unavailable", zap.Error(err))
		return
	}

	now := s.now()
	s.writer.Submit(pairingCode, entities.AlertPatch{
		FamilyToken: &token,
		LastUpdated: &now,
	}, "register_push")
}

// attachLocked subscribes to the session's document. Callers hold subMu.
func (s *FamilyAlertService) attachLocked(ctx context.Context) {
	if s.subscription != "" || s.session == nil {
		return
	}

	id, err := s.store.AddDocumentListener(ctx, s.session.PairingCode, s.HandleSnapshot)
	if err != nil {
		s.logger.Error("Failed to subscribe to shared document",
			zap.String("pairing_code", s.session.PairingCode),
			zap.Error(err))
		return
	}
	s.subscription = id

	s.logger.Info("Subscribed to shared document",
		zap.String("pairing_code", s.session.PairingCode),
		zap.String("subscription_id", string(id)))
}

func (s *FamilyAlertService) classify(ctx context.Context, doc entities.SharedAlertDocument) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	view, changed, alarm := s.evaluateLocked(doc)
	onChange := s.onChange
	s.mu.Unlock()

	if changed && onChange != nil {
		onChange(view)
	}
	if !alarm || s.signal == nil {
		return
	}
	if err := s.signal.Alert(ctx, view); err != nil {
		s.logger.Warn("Attention signal failed", zap.Error(err))
	}
}

// evaluateLocked applies doc to the view. It reports whether the view changed
// and whether the device should alarm. Callers hold mu.
func (s *FamilyAlertService) evaluateLocked(doc entities.SharedAlertDocument) (entities.AlertViewState, bool, bool) {
	// late deliveries from a torn-down subscription
	if doc.PairingCode != s.pairedCode {
		return s.view, false, false
	}

	if !doc.IsEmergency() {
		changed := s.setViewLocked(entities.AlertViewState{})
		return s.view, changed, false
	}

	if doc.PushTrigger != 0 && doc.PushTrigger == s.dismissedTrigger {
		s.logger.Debug("Ignoring already dismissed alert",
			zap.String("pairing_code", doc.PairingCode),
			zap.Int64("push_trigger", doc.PushTrigger))
		return s.view, false, false
	}

	view := entities.AlertViewState{
		IsAlertActive: true,
		AlertLocation: doc.Location,
		CallbackPhone: doc.CaregiverPhone,
		PushTrigger:   doc.PushTrigger,
	}
	return view, s.setViewLocked(view), true
}

func (s *FamilyAlertService) setViewLocked(view entities.AlertViewState) bool {
	if s.view == view {
		return false
	}
	s.view = view
	return true
}
