package usecase

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/domain/repositories"
)

const (
	AlertNotificationTitle = "⚠️ 緊急求救通知"
	AlertNotificationBody  = "您的家人正在進行 CPR 急救，請立即查看位置！"
)

// NewAlertNotification builds the wake-up notification for an emergency document
func NewAlertNotification(doc entities.SharedAlertDocument) repositories.PushNotification {
	return repositories.PushNotification{
		Title: AlertNotificationTitle,
		Body:  AlertNotificationBody,
		Data: map[string]string{
			"pairingCode": doc.PairingCode,
			"pushTrigger": strconv.FormatInt(doc.PushTrigger, 10),
			"location":    doc.Location,
		},
	}
}

// PushDispatcher observes document writes and wakes the family device on each
// new emergency. It fires on the edge only: at most one attempt per pushTrigger.
type PushDispatcher struct {
	sender repositories.PushSender
	ledger repositories.TriggerLedger
	queue  chan entities.DocumentWrite
	logger *zap.Logger
}

// NewPushDispatcher creates a dispatcher with a write queue of queueSize
func NewPushDispatcher(sender repositories.PushSender, ledger repositories.TriggerLedger, queueSize int, logger *zap.Logger) *PushDispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &PushDispatcher{
		sender: sender,
		ledger: ledger,
		queue:  make(chan entities.DocumentWrite, queueSize),
		logger: logger,
	}
}

// Enqueue hands a write to Run, blocking while the queue is full
func (d *PushDispatcher) Enqueue(ctx context.Context, write entities.DocumentWrite) error {
	select {
	case d.queue <- write:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run observes queued writes in order until ctx is done
func (d *PushDispatcher) Run(ctx context.Context) error {
	d.logger.Info("Push dispatcher started")
	for {
		select {
		case write := <-d.queue:
			d.Observe(ctx, write)
		case <-ctx.Done():
			d.logger.Info("Push dispatcher stopped")
			return ctx.Err()
		}
	}
}

// Observe inspects one write and reports whether a notification was sent
func (d *PushDispatcher) Observe(ctx context.Context, write entities.DocumentWrite) bool {
	after := write.After
	previous := d.previousTrigger(ctx, write)

	if !after.IsEmergency() || after.PushTrigger == previous {
		return false
	}

	logger := d.logger.With(
		zap.String("pairing_code", after.PairingCode),
		zap.Int64("push_trigger", after.PushTrigger))

	if after.FamilyToken == "" {
		logger.Info("No family token registered, skipping push")
		return false
	}

	if err := d.sender.Send(ctx, after.FamilyToken, NewAlertNotification(after)); err != nil {
		logger.Error("Failed to send emergency push", zap.Error(err))
		return false
	}

	logger.Info("Emergency push sent")
	return true
}

// previousTrigger records the write's trigger and returns the one observed before it.
// The ledger survives across instances; the write's own before-image is the fallback.
func (d *PushDispatcher) previousTrigger(ctx context.Context, write entities.DocumentWrite) int64 {
	var fallback int64
	if write.Before != nil {
		fallback = write.Before.PushTrigger
	}
	if d.ledger == nil {
		return fallback
	}

	previous, err := d.ledger.Swap(ctx, write.After.PairingCode, write.After.PushTrigger)
	if err != nil {
		d.logger.Warn("Trigger ledger unavailable, using document history",
			zap.String("pairing_code", write.After.PairingCode),
			zap.Error(err))
		return fallback
	}
	if previous == 0 {
		return fallback
	}
	return previous
}
