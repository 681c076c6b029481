// Package livebus fans newly persisted readings out to live subscribers.
// It is a convenience distribution layer only: the store remains the
// durable source of truth, and a subscriber that falls behind loses
// readings instead of stalling the publisher.
package livebus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/model"
)

// DefaultBufferSize is the per-subscription queue depth.
const DefaultBufferSize = 32

// ErrClosed is returned by Next once a subscription has been cancelled.
var ErrClosed = errors.New("subscription closed")

// Subscription is one live consumer's feed of new readings. It is not
// restartable: readings published while a consumer is away are not
// replayed, so a reconnecting consumer must subscribe again.
type Subscription struct {
	ID        uuid.UUID
	CreatedAt time.Time

	ch chan model.Reading
}

// Next blocks until a new reading arrives, the subscription is cancelled,
// or the context is done.
func (s *Subscription) Next(ctx context.Context) (model.Reading, error) {
	select {
	case r, ok := <-s.ch:
		if !ok {
			return model.Reading{}, ErrClosed
		}
		return r, nil
	case <-ctx.Done():
		return model.Reading{}, ctx.Err()
	}
}

// Bus delivers every published reading to every active subscription in
// publish order. Delivery to each subscriber is independent: a full
// subscriber buffer drops the newest reading for that subscriber only.
type Bus struct {
	logger  *slog.Logger
	bufSize int

	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription
	closed bool

	onDrop func()
}

// New constructs a bus with the default per-subscription buffer size.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger:  logger,
		bufSize: DefaultBufferSize,
		subs:    make(map[uuid.UUID]*Subscription),
	}
}

// SetBufferSize overrides the per-subscription queue depth. It only
// affects subscriptions created afterwards.
func (b *Bus) SetBufferSize(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	b.bufSize = n
	b.mu.Unlock()
}

// SetDropHook installs a callback invoked once per dropped reading.
func (b *Bus) SetDropHook(fn func()) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Subscribe registers a new subscription. The caller must eventually
// call Unsubscribe to release it.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
	}

	b.mu.Lock()
	sub.ch = make(chan model.Reading, b.bufSize)
	if b.closed {
		close(sub.ch)
	} else {
		b.subs[sub.ID] = sub
	}
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes a subscription and discards anything still queued
// for it. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}

// Publish delivers a reading to every active subscription. It never
// blocks: when a subscriber's buffer is full the reading is dropped for
// that subscriber and delivery to the others continues.
func (b *Bus) Publish(r model.Reading) {
	// Sends stay under the lock so Unsubscribe cannot close a channel
	// mid-delivery; they are non-blocking, so the lock is held briefly.
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- r:
		default:
			if b.onDrop != nil {
				b.onDrop()
			}
			b.logger.Debug("live update dropped for slow subscriber", "subscription", sub.ID, "reading", r.ID)
		}
	}
}

// Len reports the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close cancels every subscription. Later Subscribe calls return
// already-closed subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uuid.UUID]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
	}
}
