package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, PushLog, cfg.Push.Backend)
	assert.Equal(t, "pairings", cfg.Mongo.Collection)
	assert.Equal(t, "cprlink:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.TokenTTL)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("PUSH_BACKEND", "mqtt")
	t.Setenv("MQTT_QOS", "0")
	t.Setenv("JWT_TTL", "1h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, StoreRedis, cfg.Store.Backend)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, PushMQTT, cfg.Push.Backend)
	assert.Equal(t, byte(0), cfg.Push.MQTT.QoS)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err, "missing secret")

	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("STORE_BACKEND", "postgres")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("PUSH_BACKEND", "fcm")
	_, err = Load()
	assert.Error(t, err, "fcm without credentials")
}

func TestLoadDevice(t *testing.T) {
	cfg, err := LoadDevice("")
	require.NoError(t, err)
	assert.Equal(t, "119", cfg.EmergencyNumber)
	assert.Equal(t, 3*time.Second, cfg.LocationTimeout)
	assert.Nil(t, cfg.Location)

	path := filepath.Join(t.TempDir(), "device.yaml")
	content := `
server_url: http://rescue.example:8080
emergency_number: "112"
location_timeout: 1500ms
location:
  lat: 25.033964
  lon: 121.564468
push:
  token: family-token
  allow_notifications: false
  mqtt:
    broker: tcp://broker:1883
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err = LoadDevice(path)
	require.NoError(t, err)
	assert.Equal(t, "http://rescue.example:8080", cfg.ServerURL)
	assert.Equal(t, "112", cfg.EmergencyNumber)
	assert.Equal(t, 1500*time.Millisecond, cfg.LocationTimeout)
	require.NotNil(t, cfg.Location)
	assert.InDelta(t, 121.564468, cfg.Location.Lon, 1e-9)
	assert.Equal(t, "family-token", cfg.Push.Token)
	assert.False(t, cfg.Push.AllowNotifications)
	assert.Equal(t, "tcp://broker:1883", cfg.Push.MQTT.Broker)
	assert.Equal(t, "cprlink/push/", cfg.Push.MQTT.TopicPrefix, "defaults survive partial files")
	assert.Equal(t, "cprlink-session.db", cfg.SessionDB)
}
