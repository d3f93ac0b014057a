package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TGOO-Worldwide/siliviat-app/internal/models"

	"github.com/google/uuid"
)

var (
	ErrUnknownType    = errors.New("unknown event type")
	ErrInvalidPayload = errors.New("payload is not valid JSON")
)

// Store is the durable pending-event queue. Implementations must return
// ListAll in ascending timestamp order, stable for equal timestamps, and
// treat Remove and IncrementRetry on a missing id as a no-op.
type Store interface {
	Enqueue(ctx context.Context, eventType models.EventType, payload json.RawMessage) (string, error)
	ListAll(ctx context.Context) ([]models.PendingEvent, error)
	Remove(ctx context.Context, id string) error
	IncrementRetry(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	ClearAll(ctx context.Context) error
}

// Option configures a Store implementation.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used to stamp new events.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewEventID builds "<type>-<unix millis>-<random>".
func NewEventID(eventType models.EventType, ts time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s-%d-%s", eventType, ts.UnixMilli(), suffix)
}

func validate(eventType models.EventType, payload json.RawMessage) error {
	if !eventType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, eventType)
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return ErrInvalidPayload
	}
	return nil
}
