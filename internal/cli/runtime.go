package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/adapters/console"
	"github.com/satriahrh/cprlink/adapters/remote"
	"github.com/satriahrh/cprlink/adapters/sqlite"
	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/domain/repositories"
	"github.com/satriahrh/cprlink/internal/config"
	"github.com/satriahrh/cprlink/internal/logger"
	"github.com/satriahrh/cprlink/usecase"
)

// deviceRuntime wires one device's services for the lifetime of a command
type deviceRuntime struct {
	config   *config.DeviceConfig
	logger   *zap.Logger
	role     entities.Role
	sessions *sqlite.SessionStore
	store    *remote.DocumentStore
	push     *console.PushChannel

	pairing   *usecase.PairingService
	caregiver *usecase.CaregiverService
	family    *usecase.FamilyAlertService
}

// newDeviceRuntime builds the runtime. role is the role a pair command asks
// for; other commands pass "" and use the persisted role.
func newDeviceRuntime(ctx context.Context, cfg *config.DeviceConfig, role entities.Role, out io.Writer) (*deviceRuntime, error) {
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "cprlink")
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	sessions, err := sqlite.Open(cfg.SessionDB)
	if err != nil {
		return nil, err
	}

	stored, err := sessions.Get(ctx, repositories.SessionKeyRole)
	switch {
	case errors.Is(err, repositories.ErrSessionKeyNotFound):
		if role == "" {
			sessions.Close()
			return nil, entities.ErrNotPaired
		}
	case err != nil:
		sessions.Close()
		return nil, fmt.Errorf("failed to read local session: %w", err)
	case role != "" && entities.Role(stored) != role:
		sessions.Close()
		return nil, fmt.Errorf("%w: already paired as %s, unpair first", entities.ErrInvalidTransition, stored)
	default:
		role = entities.Role(stored)
	}

	store, err := remote.NewDocumentStore(remote.Config{
		ServerURL:      cfg.ServerURL,
		Role:           role,
		Timeout:        cfg.WriteTimeout,
		ReconnectDelay: cfg.ReconnectDelay,
	}, log)
	if err != nil {
		sessions.Close()
		return nil, err
	}

	rt := &deviceRuntime{
		config:   cfg,
		logger:   log,
		role:     role,
		sessions: sessions,
		store:    store,
		push:     console.NewPushChannel(cfg.Push.Token, cfg.Push.AllowNotifications),
	}
	if stored != "" {
		// the user already answered the prompt when this device was paired
		rt.push.Grant()
	}

	rt.caregiver = usecase.NewCaregiverService(
		store,
		console.NewDialer(out, log),
		console.NewGeolocator(cfg.Location),
		usecase.CaregiverConfig{
			EmergencyNumber: cfg.EmergencyNumber,
			LocationTimeout: cfg.LocationTimeout,
			WriteTimeout:    cfg.WriteTimeout,
		},
		log,
	)
	rt.family = usecase.NewFamilyAlertService(store, rt.push, console.NewAttentionSignal(out), cfg.WriteTimeout, log)
	rt.pairing = usecase.NewPairingService(
		sessions,
		store,
		entities.NewPairingCodeGenerator(),
		rt.family,
		log,
		rt.caregiver,
		rt.family,
	)

	return rt, nil
}

// resume restores the persisted pairing or fails with ErrNotPaired
func (rt *deviceRuntime) resume(ctx context.Context) (entities.PairingSession, error) {
	session, ok, err := rt.pairing.Resume(ctx)
	if err != nil {
		return entities.PairingSession{}, err
	}
	if !ok {
		return entities.PairingSession{}, entities.ErrNotPaired
	}
	return session, nil
}

// Close waits for in-flight writes, then releases the store and the session database
func (rt *deviceRuntime) Close() {
	rt.pairing.Wait()
	rt.caregiver.Wait()
	rt.family.Wait()
	rt.store.Close()
	if err := rt.sessions.Close(); err != nil {
		rt.logger.Warn("Failed to close session database", zap.Error(err))
	}
	_ = rt.logger.Sync()
}
