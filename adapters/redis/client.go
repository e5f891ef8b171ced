package redis

import (
	"context"

	goredis "github.com/go-redis/redis/v8"

	"github.com/satriahrh/cprlink/internal/config"
)

// NewClient creates a Redis client from config
func NewClient(cfg config.RedisConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping verifies the Redis connection
func Ping(ctx context.Context, client *goredis.Client) error {
	return client.Ping(ctx).Err()
}
