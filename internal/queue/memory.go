package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
)

// MemoryStore is an in-process Store for tests and ephemeral agents.
type MemoryStore struct {
	mu     sync.Mutex
	now    func() time.Time
	events []models.PendingEvent
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{now: o.now}
}

func (m *MemoryStore) Enqueue(_ context.Context, eventType models.EventType, payload json.RawMessage) (string, error) {
	if err := validate(eventType, payload); err != nil {
		return "", err
	}

	ts := time.UnixMilli(m.now().UnixMilli())
	ev := models.PendingEvent{
		ID:        NewEventID(eventType, ts),
		Type:      eventType,
		Payload:   append(json.RawMessage(nil), payload...),
		Timestamp: ts,
	}

	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return ev.ID, nil
}

func (m *MemoryStore) ListAll(_ context.Context) ([]models.PendingEvent, error) {
	m.mu.Lock()
	out := make([]models.PendingEvent, len(m.events))
	for i, ev := range m.events {
		ev.Payload = append(json.RawMessage(nil), ev.Payload...)
		out[i] = ev
	}
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (m *MemoryStore) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ev := range m.events {
		if ev.ID == id {
			m.events = append(m.events[:i], m.events[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) IncrementRetry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].RetryCount++
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events), nil
}

func (m *MemoryStore) ClearAll(_ context.Context) error {
	m.mu.Lock()
	m.events = nil
	m.mu.Unlock()
	return nil
}
