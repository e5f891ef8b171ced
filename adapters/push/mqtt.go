package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/domain/repositories"
	"github.com/satriahrh/cprlink/internal/config"
)

// MessageHandler handles one inbound MQTT message
type MessageHandler func(topic string, payload []byte) error

// MQTTClient wraps a paho client
type MQTTClient struct {
	client mqtt.Client
	config config.MQTTConfig
	logger *zap.Logger
}

// NewMQTTClient connects to the configured broker
func NewMQTTClient(cfg config.MQTTConfig, logger *zap.Logger) (*MQTTClient, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTClient{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

// Subscribe registers handler for topic
func (c *MQTTClient) Subscribe(topic string, handler MessageHandler) error {
	token := c.client.Subscribe(topic, c.config.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Error("Error handling MQTT message",
				zap.String("topic", msg.Topic()),
				zap.Error(err))
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Publish publishes payload to topic
func (c *MQTTClient) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, c.config.QoS, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Unsubscribe removes topic subscriptions
func (c *MQTTClient) Unsubscribe(topics ...string) error {
	token := c.client.Unsubscribe(topics...)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}
	return nil
}

// Disconnect closes the connection
func (c *MQTTClient) Disconnect() {
	c.client.Disconnect(250)
}

// TopicFor returns the per-device wake topic for token
func TopicFor(prefix, token string) string {
	return prefix + token
}

// MQTTSender delivers notifications by publishing them on the device's wake topic
type MQTTSender struct {
	client *MQTTClient
	prefix string
}

// NewMQTTSender creates an MQTT push sender
func NewMQTTSender(client *MQTTClient, topicPrefix string) *MQTTSender {
	return &MQTTSender{client: client, prefix: topicPrefix}
}

// Send implements repositories.PushSender
func (s *MQTTSender) Send(ctx context.Context, token string, notification repositories.PushNotification) error {
	if token == "" {
		return errors.New("push token cannot be empty")
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	return s.client.Publish(TopicFor(s.prefix, token), payload)
}

// WakeHandler receives inbound wake-up notifications on the device
type WakeHandler func(ctx context.Context, notification repositories.PushNotification)

// MQTTWakeListener delivers MQTT-published notifications to a device that is not holding a WebSocket
type MQTTWakeListener struct {
	client *MQTTClient
	topic  string
	logger *zap.Logger
}

// NewMQTTWakeListener creates a wake listener for token
func NewMQTTWakeListener(client *MQTTClient, topicPrefix, token string, logger *zap.Logger) *MQTTWakeListener {
	return &MQTTWakeListener{
		client: client,
		topic:  TopicFor(topicPrefix, token),
		logger: logger,
	}
}

// Start subscribes and forwards notifications to handler until Stop
func (l *MQTTWakeListener) Start(ctx context.Context, handler WakeHandler) error {
	return l.client.Subscribe(l.topic, func(topic string, payload []byte) error {
		var notification repositories.PushNotification
		if err := json.Unmarshal(payload, &notification); err != nil {
			return fmt.Errorf("invalid notification payload: %w", err)
		}
		l.logger.Info("Wake-up notification received", zap.String("topic", topic))
		handler(ctx, notification)
		return nil
	})
}

// Stop unsubscribes the wake topic
func (l *MQTTWakeListener) Stop() error {
	return l.client.Unsubscribe(l.topic)
}
