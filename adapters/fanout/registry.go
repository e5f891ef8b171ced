// Package fanout delivers document snapshots to in-process listeners.
//
// Every subscription owns a single-slot mailbox drained by its own goroutine.
// Writers never block on slow listeners: an undelivered snapshot is replaced
// by the newer one, so a listener always converges on the latest document
// while seeing snapshots in write order.
package fanout

import (
	"sync"

	"github.com/google/uuid"

	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/domain/repositories"
)

// Registry tracks listeners per document key
type Registry struct {
	mu    sync.RWMutex
	subs  map[repositories.SubscriptionID]*subscription
	byKey map[string]map[repositories.SubscriptionID]*subscription
}

type subscription struct {
	id       repositories.SubscriptionID
	key      string
	listener repositories.DocumentListener
	mailbox  chan entities.SharedAlertDocument

	mu     sync.Mutex
	closed bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		subs:  make(map[repositories.SubscriptionID]*subscription),
		byKey: make(map[string]map[repositories.SubscriptionID]*subscription),
	}
}

// Add registers listener for key and starts its delivery goroutine
func (r *Registry) Add(key string, listener repositories.DocumentListener) repositories.SubscriptionID {
	sub := &subscription{
		id:       repositories.SubscriptionID(uuid.NewString()),
		key:      key,
		listener: listener,
		mailbox:  make(chan entities.SharedAlertDocument, 1),
	}

	r.mu.Lock()
	r.subs[sub.id] = sub
	if r.byKey[key] == nil {
		r.byKey[key] = make(map[repositories.SubscriptionID]*subscription)
	}
	r.byKey[key][sub.id] = sub
	r.mu.Unlock()

	go sub.run()
	return sub.id
}

// Remove unregisters a subscription. It reports false for unknown IDs.
func (r *Registry) Remove(id repositories.SubscriptionID) bool {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
		delete(r.byKey[sub.key], id)
		if len(r.byKey[sub.key]) == 0 {
			delete(r.byKey, sub.key)
		}
	}
	r.mu.Unlock()

	if ok {
		sub.close()
	}
	return ok
}

// Notify offers doc to every listener of key
func (r *Registry) Notify(key string, doc entities.SharedAlertDocument) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.byKey[key] {
		sub.offer(doc)
	}
}

// Deliver offers doc to a single subscription, used for the snapshot sent on subscribe
func (r *Registry) Deliver(id repositories.SubscriptionID, doc entities.SharedAlertDocument) {
	r.mu.RLock()
	sub, ok := r.subs[id]
	r.mu.RUnlock()
	if ok {
		sub.offer(doc)
	}
}

// Count returns the number of listeners registered for key
func (r *Registry) Count(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey[key])
}

// Close removes every subscription
func (r *Registry) Close() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[repositories.SubscriptionID]*subscription)
	r.byKey = make(map[string]map[repositories.SubscriptionID]*subscription)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (s *subscription) offer(doc entities.SharedAlertDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.mailbox <- doc:
		return
	default:
	}

	// Replace the undelivered snapshot. Only offer sends, and it holds s.mu,
	// so the slot is free after the drain.
	select {
	case <-s.mailbox:
	default:
	}
	s.mailbox <- doc
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	select {
	case <-s.mailbox:
	default:
	}
	close(s.mailbox)
}

func (s *subscription) run() {
	for doc := range s.mailbox {
		s.listener(doc)
	}
}
