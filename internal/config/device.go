package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/satriahrh/cprlink/domain/entities"
)

// DeviceConfig configures the device runtime used by the cprlink CLI
type DeviceConfig struct {
	ServerURL       string        `yaml:"server_url"`
	SessionDB       string        `yaml:"session_db"`
	EmergencyNumber string        `yaml:"emergency_number"`
	LocationTimeout time.Duration `yaml:"location_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`

	// Location is the simulated GPS fix; nil means no fix is available
	Location *entities.Position `yaml:"location"`

	Push struct {
		Token              string     `yaml:"token"`
		AllowNotifications bool       `yaml:"allow_notifications"`
		MQTT               MQTTConfig `yaml:"mqtt"`
	} `yaml:"push"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultDeviceConfig returns the device defaults
func DefaultDeviceConfig() *DeviceConfig {
	cfg := &DeviceConfig{
		ServerURL:       "http://localhost:8080",
		SessionDB:       "cprlink-session.db",
		EmergencyNumber: "119",
		LocationTimeout: 3 * time.Second,
		WriteTimeout:    10 * time.Second,
		ReconnectDelay:  2 * time.Second,
	}
	cfg.Push.AllowNotifications = true
	cfg.Push.MQTT.TopicPrefix = "cprlink/push/"
	cfg.Push.MQTT.QoS = 1
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	return cfg
}

// LoadDevice reads a YAML device config on top of the defaults.
// An empty path returns the defaults.
func LoadDevice(path string) (*DeviceConfig, error) {
	cfg := DefaultDeviceConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read device config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse device config %s: %w", path, err)
	}
	if cfg.EmergencyNumber == "" {
		return nil, fmt.Errorf("emergency_number cannot be empty")
	}
	return cfg, nil
}
