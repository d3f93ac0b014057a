package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TGOO-Worldwide/siliviat-app/internal/client"
	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
	"github.com/TGOO-Worldwide/siliviat-app/internal/notify"
	"github.com/TGOO-Worldwide/siliviat-app/internal/queue"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultMaxRetries = 3

// Dispatcher replays one queued event against the remote API and returns
// the response body on success.
type Dispatcher interface {
	Replay(ctx context.Context, ev models.PendingEvent) (json.RawMessage, error)
}

type Publisher interface {
	Publish(ev notify.Event)
}

type Options struct {
	// MaxRetries is the retry ceiling; an event entering a drain with this
	// many failed attempts is dropped without a remote call.
	MaxRetries int
	// RetryRejections keeps permanent and validation failures in the queue
	// until the ceiling, like transient ones. When false they are dropped
	// on first rejection.
	RetryRejections bool
}

type EventError struct {
	EventID string       `json:"eventId"`
	Error   string       `json:"error"`
	Class   client.Class `json:"class,omitempty"`
}

type Result struct {
	Processed int          `json:"processed"`
	Failed    int          `json:"failed"`
	Errors    []EventError `json:"errors"`
}

// DroppedEvent is the Data of a notify.KindEventDropped event.
type DroppedEvent struct {
	Reason string       `json:"reason"`
	Class  client.Class `json:"class,omitempty"`
}

// Engine drains the pending event queue, one event at a time, oldest first.
type Engine struct {
	store      queue.Store
	dispatcher Dispatcher
	bus        Publisher
	opts       Options
	logger     *zap.Logger

	// ctx bounds every drain; a caller's context only bounds its wait.
	ctx    context.Context
	cancel context.CancelFunc

	group   singleflight.Group
	mu      sync.Mutex // held by a running drain or discard
	syncing atomic.Bool
}

func NewEngine(store queue.Store, dispatcher Dispatcher, bus Publisher, opts Options, logger *zap.Logger) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:      store,
		dispatcher: dispatcher,
		bus:        bus,
		opts:       opts,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Close stops a running drain before its next event and waits for it.
func (e *Engine) Close() {
	e.cancel()
	<-e.group.DoChan("drain", func() (interface{}, error) {
		return Result{Errors: []EventError{}}, nil
	})
}

// Syncing reports whether a drain is in flight.
func (e *Engine) Syncing() bool {
	return e.syncing.Load()
}

// SyncPendingEvents runs one drain. A call that overlaps a running drain
// does not start another; it waits for and shares the running drain's
// result. Failures are reported in the result, never returned.
//
// ctx bounds only the wait. A caller that gives up gets a result carrying
// ctx's error while the drain carries on for everyone else.
func (e *Engine) SyncPendingEvents(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Result{Errors: []EventError{}}
	}

	ch := e.group.DoChan("drain", func() (interface{}, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.syncing.Store(true)
		defer e.syncing.Store(false)
		return e.drain(e.ctx), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			e.logger.Debug("Joined drain already in progress")
		}
		return res.Val.(Result)
	case <-ctx.Done():
		e.logger.Debug("Caller left running drain", zap.Error(ctx.Err()))
		return Result{Errors: []EventError{{Error: ctx.Err().Error()}}}
	}
}

// DiscardPending empties the queue and publishes a drop for every event
// removed, so optimistic state tied to them is released.
func (e *Engine) DiscardPending(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	events, err := e.store.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending events: %w", err)
	}
	if err := e.store.ClearAll(ctx); err != nil {
		return 0, fmt.Errorf("failed to clear pending events: %w", err)
	}

	for _, ev := range events {
		e.publish(notify.Event{
			Kind:      notify.KindEventDropped,
			EventID:   ev.ID,
			EventType: string(ev.Type),
			Data:      DroppedEvent{Reason: "discarded", Class: client.Permanent},
		})
	}
	e.logger.Warn("Pending events discarded", zap.Int("count", len(events)))
	return len(events), nil
}

func (e *Engine) drain(ctx context.Context) Result {
	result := Result{Errors: []EventError{}}
	if ctx.Err() != nil {
		return result
	}

	events, err := e.store.ListAll(ctx)
	if err != nil {
		e.logger.Error("Failed to list pending events", zap.Error(err))
		result.Errors = append(result.Errors, EventError{Error: err.Error()})
		return result
	}

	if len(events) == 0 {
		return result
	}

	start := time.Now()
	e.logger.Info("Draining pending events", zap.Int("pending_count", len(events)))

	for _, ev := range events {
		if ctx.Err() != nil {
			e.logger.Warn("Drain cancelled", zap.Error(ctx.Err()))
			break
		}
		e.process(ctx, ev, &result)
	}

	e.logger.Info("Drain finished",
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", time.Since(start)),
	)

	e.publish(notify.Event{Kind: notify.KindSyncCompleted, Data: result})
	return result
}

func (e *Engine) process(ctx context.Context, ev models.PendingEvent, result *Result) {
	log := e.logger.With(
		zap.String("event_id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.Int("retry_count", ev.RetryCount),
	)

	if ev.RetryCount >= e.opts.MaxRetries {
		e.drop(ctx, ev, result, "max retries exceeded", client.Transient)
		log.Warn("Dropping event after max retries")
		return
	}

	if !ev.Type.Valid() || !json.Valid(ev.Payload) {
		e.drop(ctx, ev, result, fmt.Sprintf("invalid event: type %q or malformed payload", ev.Type), client.Permanent)
		log.Error("Dropping malformed event")
		return
	}

	resp, err := e.dispatcher.Replay(ctx, ev)
	if err == nil {
		if err := e.store.Remove(ctx, ev.ID); err != nil {
			// the idempotency key makes the next replay harmless
			log.Error("Failed to remove synced event", zap.Error(err))
		}
		result.Processed++
		e.publish(notify.Event{
			Kind:      notify.KindEventSynced,
			EventID:   ev.ID,
			EventType: string(ev.Type),
			Data:      resp,
		})
		log.Debug("Event synced")
		return
	}

	class := client.Classify(err)
	if class != client.Transient && !e.opts.RetryRejections {
		e.drop(ctx, ev, result, err.Error(), class)
		log.Warn("Dropping rejected event", zap.String("class", string(class)), zap.Error(err))
		return
	}

	result.Failed++
	result.Errors = append(result.Errors, EventError{EventID: ev.ID, Error: err.Error(), Class: class})
	if err := e.store.IncrementRetry(ctx, ev.ID); err != nil {
		log.Error("Failed to increment retry count", zap.Error(err))
	}
	log.Warn("Event replay failed", zap.String("class", string(class)), zap.Error(err))
}

func (e *Engine) drop(ctx context.Context, ev models.PendingEvent, result *Result, reason string, class client.Class) {
	if err := e.store.Remove(ctx, ev.ID); err != nil {
		e.logger.Error("Failed to remove dropped event", zap.String("event_id", ev.ID), zap.Error(err))
	}
	result.Failed++
	result.Errors = append(result.Errors, EventError{EventID: ev.ID, Error: reason, Class: class})
	e.publish(notify.Event{
		Kind:      notify.KindEventDropped,
		EventID:   ev.ID,
		EventType: string(ev.Type),
		Data:      DroppedEvent{Reason: reason, Class: class},
	})
}

func (e *Engine) publish(ev notify.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
