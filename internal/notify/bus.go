package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Kind string

const (
	// KindVisitUpdated fires whenever the locally tracked active visit changes.
	KindVisitUpdated Kind = "visit_updated"
	// KindEventSynced carries the server response body for a replayed event.
	KindEventSynced Kind = "event_synced"
	// KindEventDropped fires when an event leaves the queue without success.
	KindEventDropped Kind = "event_dropped"
	KindSyncCompleted Kind = "sync_completed"
	KindConnectivity  Kind = "connectivity"
)

type Event struct {
	Kind      Kind      `json:"kind"`
	EventID   string    `json:"eventId,omitempty"`
	EventType string    `json:"eventType,omitempty"`
	Data      any       `json:"data,omitempty"`
	At        time.Time `json:"at"`
}

// Bus is an in-process publish/subscribe channel. Delivery is synchronous
// on the publisher's goroutine, so subscribers must return quickly.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]func(Event)
	nextID uint64
	logger *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]func(Event)),
		logger: logger,
	}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		b.deliver(fn, ev)
	}
}

func (b *Bus) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Subscriber panicked",
				zap.String("kind", string(ev.Kind)),
				zap.Any("panic", r),
			)
		}
	}()
	fn(ev)
}
