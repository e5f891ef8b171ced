package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// TriggerLedger records the last observed pushTrigger per pairing with GETSET,
// so only one server instance ever sees a given trigger as new.
type TriggerLedger struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewTriggerLedger creates a Redis trigger ledger. A zero ttl keeps entries forever.
func NewTriggerLedger(client *goredis.Client, keyPrefix string, ttl time.Duration) *TriggerLedger {
	return &TriggerLedger{
		client: client,
		prefix: keyPrefix,
		ttl:    ttl,
	}
}

func (l *TriggerLedger) key(pairingCode string) string {
	return l.prefix + "push:last:" + pairingCode
}

// Swap implements repositories.TriggerLedger
func (l *TriggerLedger) Swap(ctx context.Context, pairingCode string, trigger int64) (int64, error) {
	key := l.key(pairingCode)
	previous, err := l.client.GetSet(ctx, key, strconv.FormatInt(trigger, 10)).Result()
	if err != nil && err != goredis.Nil {
		return 0, fmt.Errorf("failed to swap push trigger: %w", err)
	}

	if l.ttl > 0 {
		if err := l.client.Expire(ctx, key, l.ttl).Err(); err != nil {
			return 0, fmt.Errorf("failed to set push trigger TTL: %w", err)
		}
	}

	if err == goredis.Nil || previous == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(previous, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stored push trigger %q: %w", previous, err)
	}
	return value, nil
}
