package memory

import (
	"context"
	"sync"
)

// TriggerLedger is an in-process repositories.TriggerLedger
type TriggerLedger struct {
	mu       sync.Mutex
	triggers map[string]int64
}

// NewTriggerLedger creates an empty ledger
func NewTriggerLedger() *TriggerLedger {
	return &TriggerLedger{triggers: make(map[string]int64)}
}

// Swap implements repositories.TriggerLedger
func (l *TriggerLedger) Swap(ctx context.Context, key string, trigger int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	previous := l.triggers[key]
	l.triggers[key] = trigger
	return previous, nil
}
