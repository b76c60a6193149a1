package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hannesnortje/memlink/internal/model"
)

// Bus fans lifecycle events out to an arbitrary number of subscribers.
// Publishing never blocks: slow subscribers drop events rather than stalling
// the state machine. Subscribe and Unsubscribe are safe to call while a
// publish is in flight.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription
	closed bool

	bufferSize int
}

// Subscription is one registered listener. Events arrive on C until
// Unsubscribe is called or the bus is closed.
type Subscription struct {
	C <-chan model.LifecycleEvent

	id    uuid.UUID
	ch    chan model.LifecycleEvent
	kinds map[model.EventType]struct{} // nil means all kinds
}

// NewBus creates an event bus. bufferSize is the per-subscriber channel
// depth; events beyond it are dropped for that subscriber.
func NewBus(bufferSize int, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize < 1 {
		bufferSize = 16
	}
	return &Bus{
		logger:     logger,
		subs:       make(map[uuid.UUID]*Subscription),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a listener for the given event kinds. With no kinds,
// the subscription receives every event.
func (b *Bus) Subscribe(kinds ...model.EventType) *Subscription {
	ch := make(chan model.LifecycleEvent, b.bufferSize)
	sub := &Subscription{
		C:  ch,
		id: uuid.New(),
		ch: ch,
	}

	if len(kinds) > 0 {
		sub.kinds = make(map[model.EventType]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a listener. Idempotent; the subscription's channel is
// closed once removed.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish delivers an event to every matching subscriber. The read lock is
// held across the sends: Unsubscribe and Close take the write lock before
// closing a channel, so no send can race a close. Sends never block, so
// holding the lock through dispatch cannot stall.
func (b *Bus) Publish(ev model.LifecycleEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.kinds != nil {
			if _, ok := sub.kinds[ev.Type]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("subscriber buffer full, dropping event",
				"event", ev.Type,
			)
		}
	}
}

// Close shuts down the bus and closes all subscriber channels. Publish after
// Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
