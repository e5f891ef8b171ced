package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/domain/repositories"
)

const defaultWriteTimeout = 10 * time.Second

// backgroundWriter runs fire-and-forget document writes. Failures are logged
// and never reach the caller; Wait lets teardown drain in-flight writes.
type backgroundWriter struct {
	store   repositories.DocumentStore
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func newBackgroundWriter(store repositories.DocumentStore, timeout time.Duration, logger *zap.Logger) *backgroundWriter {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &backgroundWriter{store: store, timeout: timeout, logger: logger}
}

// Go runs task in its own goroutine with a detached, bounded context
func (w *backgroundWriter) Go(task func(ctx context.Context)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		task(ctx)
	}()
}

// Submit writes patch to key in the background
func (w *backgroundWriter) Submit(key string, patch entities.AlertPatch, action string) {
	w.Go(func(ctx context.Context) {
		w.write(ctx, key, patch, action)
	})
}

func (w *backgroundWriter) write(ctx context.Context, key string, patch entities.AlertPatch, action string) {
	if _, err := w.store.SetDocument(ctx, key, patch); err != nil {
		w.logger.Error("Shared document write failed",
			zap.String("action", action),
			zap.String("pairing_code", key),
			zap.Error(err))
		return
	}
	w.logger.Debug("Shared document written",
		zap.String("action", action),
		zap.String("pairing_code", key))
}

// Wait blocks until every submitted write has settled
func (w *backgroundWriter) Wait() {
	w.wg.Wait()
}
