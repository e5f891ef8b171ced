package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
)

// Push backends
const (
	PushLog  = "log"
	PushFCM  = "fcm"
	PushMQTT = "mqtt"
)

// MongoConfig MongoDB connection settings
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// RedisConfig Redis connection settings
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// MQTTConfig MQTT broker settings
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// FCMConfig Firebase Cloud Messaging HTTP v1 settings
type FCMConfig struct {
	BaseURL     string
	ProjectID   string
	AccessToken string
	Timeout     time.Duration
}

// Config server configuration
type Config struct {
	Server struct {
		Port            string
		ShutdownTimeout time.Duration
	}

	Store struct {
		Backend string
	}

	Mongo MongoConfig
	Redis RedisConfig

	Push struct {
		Backend   string
		QueueSize int
		FCM       FCMConfig
		MQTT      MQTTConfig
	}

	Auth struct {
		JWTSecret string
		TokenTTL  time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads .env (if present) and the process environment
func Load() (*Config, error) {
	// A missing .env is fine; the environment may already be populated
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Server.Port = getEnv("PORT", "8080")
	cfg.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)

	cfg.Store.Backend = strings.ToLower(getEnv("STORE_BACKEND", StoreMemory))

	cfg.Mongo.URI = getEnv("MONGODB_URI", "mongodb://localhost:27017")
	cfg.Mongo.Database = getEnv("MONGODB_DATABASE", "cprlink")
	cfg.Mongo.Collection = getEnv("MONGODB_COLLECTION", "pairings")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.KeyPrefix = getEnv("REDIS_KEY_PREFIX", "cprlink:")

	cfg.Push.Backend = strings.ToLower(getEnv("PUSH_BACKEND", PushLog))
	cfg.Push.QueueSize = getEnvInt("PUSH_QUEUE_SIZE", 256)
	cfg.Push.FCM.BaseURL = getEnv("FCM_BASE_URL", "https://fcm.googleapis.com")
	cfg.Push.FCM.ProjectID = getEnv("FCM_PROJECT_ID", "")
	cfg.Push.FCM.AccessToken = getEnv("FCM_ACCESS_TOKEN", "")
	cfg.Push.FCM.Timeout = getEnvDuration("FCM_TIMEOUT", 10*time.Second)
	cfg.Push.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.Push.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "cprlink-server")
	cfg.Push.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.Push.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.Push.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "cprlink/push/")
	cfg.Push.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.Auth.TokenTTL = getEnvDuration("JWT_TTL", 30*24*time.Hour)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks backend names and required secrets
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreRedis, StoreMongo:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}

	switch c.Push.Backend {
	case PushLog, PushMQTT:
	case PushFCM:
		if c.Push.FCM.ProjectID == "" || c.Push.FCM.AccessToken == "" {
			return fmt.Errorf("PUSH_BACKEND=fcm requires FCM_PROJECT_ID and FCM_ACCESS_TOKEN")
		}
	default:
		return fmt.Errorf("unknown PUSH_BACKEND %q", c.Push.Backend)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
