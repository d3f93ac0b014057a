package models

import (
	"encoding/json"
	"time"
)

// EventType identifies which remote mutation a queued event replays.
type EventType string

const (
	EventCheckin  EventType = "checkin"
	EventCheckout EventType = "checkout"
	EventCompany  EventType = "company"
	EventSale     EventType = "sale"
)

func (t EventType) Valid() bool {
	switch t {
	case EventCheckin, EventCheckout, EventCompany, EventSale:
		return true
	}
	return false
}

// PendingEvent is a mutation captured while offline and awaiting replay.
// Payload is kept byte-for-byte as enqueued.
type PendingEvent struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retryCount"`
}
