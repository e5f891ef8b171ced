package push

import (
	"context"

	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/domain/repositories"
)

// LogSender records notifications instead of delivering them, for development servers
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a logging push sender
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send implements repositories.PushSender
func (s *LogSender) Send(ctx context.Context, token string, notification repositories.PushNotification) error {
	s.logger.Info("Push notification (log backend)",
		zap.String("token", token),
		zap.String("title", notification.Title),
		zap.Any("data", notification.Data))
	return nil
}
