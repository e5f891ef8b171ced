package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/domain/repositories"
	"github.com/satriahrh/cprlink/internal/config"
)

// FCMSender sends notifications through the Firebase Cloud Messaging HTTP v1 API.
// It makes exactly one attempt per call; the dispatcher owns the at-most-once policy.
type FCMSender struct {
	httpClient *resty.Client
	projectID  string
	logger     *zap.Logger
}

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Android      fcmAndroid        `json:"android"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmAndroid struct {
	Priority string `json:"priority"`
}

type fcmResponse struct {
	Name string `json:"name"`
}

type fcmErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewFCMSender creates an FCM sender
func NewFCMSender(cfg config.FCMConfig, logger *zap.Logger) *FCMSender {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &FCMSender{
		httpClient: client,
		projectID:  cfg.ProjectID,
		logger:     logger,
	}
}

// Send implements repositories.PushSender
func (s *FCMSender) Send(ctx context.Context, token string, notification repositories.PushNotification) error {
	if token == "" {
		return errors.New("push token cannot be empty")
	}

	request := fcmRequest{
		Message: fcmMessage{
			Token: token,
			Notification: fcmNotification{
				Title: notification.Title,
				Body:  notification.Body,
			},
			Data:    notification.Data,
			Android: fcmAndroid{Priority: "high"},
		},
	}

	var response fcmResponse
	var failure fcmErrorResponse
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetPathParam("project", s.projectID).
		SetBody(request).
		SetResult(&response).
		SetError(&failure).
		Post("/v1/projects/{project}/messages:send")
	if err != nil {
		return fmt.Errorf("fcm request failed: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("fcm returned %d: %s %s",
			resp.StatusCode(), failure.Error.Status, failure.Error.Message)
	}

	s.logger.Info("FCM notification sent",
		zap.String("message_name", response.Name))
	return nil
}
