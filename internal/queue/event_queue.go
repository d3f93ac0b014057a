package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TGOO-Worldwide/siliviat-app/internal/models"

	"go.uber.org/zap"
)

// EventQueue is the SQLite-backed pending event queue.
type EventQueue struct {
	db     *sql.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewEventQueue creates a queue on an already migrated agent database.
func NewEventQueue(db *sql.DB, logger *zap.Logger, opts ...Option) *EventQueue {
	o := buildOptions(opts)
	return &EventQueue{
		db:     db,
		now:    o.now,
		logger: logger,
	}
}

// Enqueue stores a new event with a zero retry count and returns its id.
func (eq *EventQueue) Enqueue(ctx context.Context, eventType models.EventType, payload json.RawMessage) (string, error) {
	if err := validate(eventType, payload); err != nil {
		return "", err
	}

	ts := eq.now()
	id := NewEventID(eventType, ts)

	_, err := eq.db.ExecContext(ctx, `
		INSERT INTO pending_events (id, type, payload, timestamp, retry_count)
		VALUES (?, ?, ?, ?, 0)
	`, id, string(eventType), string(payload), ts.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to enqueue event: %w", err)
	}

	eq.logger.Debug("Event enqueued",
		zap.String("event_id", id),
		zap.String("type", string(eventType)),
	)

	return id, nil
}

// ListAll returns every queued event, oldest first.
func (eq *EventQueue) ListAll(ctx context.Context) ([]models.PendingEvent, error) {
	rows, err := eq.db.QueryContext(ctx, `
		SELECT id, type, payload, timestamp, retry_count
		FROM pending_events
		ORDER BY timestamp ASC, seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	var events []models.PendingEvent
	for rows.Next() {
		var (
			ev      models.PendingEvent
			typ     string
			payload string
			millis  int64
		)
		if err := rows.Scan(&ev.ID, &typ, &payload, &millis, &ev.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan pending event: %w", err)
		}
		ev.Type = models.EventType(typ)
		ev.Payload = json.RawMessage(payload)
		ev.Timestamp = time.UnixMilli(millis)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending events: %w", err)
	}

	return events, nil
}

// Remove deletes an event. Removing an unknown id is not an error.
func (eq *EventQueue) Remove(ctx context.Context, id string) error {
	result, err := eq.db.ExecContext(ctx, `DELETE FROM pending_events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove event: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	eq.logger.Debug("Event removed from queue",
		zap.String("event_id", id),
		zap.Int64("count", rowsAffected),
	)

	return nil
}

// IncrementRetry bumps retry_count in a single statement; a concurrently
// removed event is left alone.
func (eq *EventQueue) IncrementRetry(ctx context.Context, id string) error {
	_, err := eq.db.ExecContext(ctx, `
		UPDATE pending_events
		SET retry_count = retry_count + 1, last_attempt = ?
		WHERE id = ?
	`, eq.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to increment retry: %w", err)
	}
	return nil
}

func (eq *EventQueue) Count(ctx context.Context) (int, error) {
	var count int
	if err := eq.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get pending count: %w", err)
	}
	return count, nil
}

func (eq *EventQueue) ClearAll(ctx context.Context) error {
	result, err := eq.db.ExecContext(ctx, `DELETE FROM pending_events`)
	if err != nil {
		return fmt.Errorf("failed to clear pending events: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	eq.logger.Info("Pending events cleared", zap.Int64("count", rowsAffected))
	return nil
}

// CleanupOldEvents removes events older than olderThan that already used up
// minRetries attempts. The next drain would drop them anyway.
func (eq *EventQueue) CleanupOldEvents(ctx context.Context, olderThan time.Duration, minRetries int) (int64, error) {
	cutoff := eq.now().Add(-olderThan).UnixMilli()
	result, err := eq.db.ExecContext(ctx, `
		DELETE FROM pending_events
		WHERE timestamp < ? AND retry_count >= ?
	`, cutoff, minRetries)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old events: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		eq.logger.Info("Cleaned up old events",
			zap.Int64("count", rowsAffected),
		)
	}

	return rowsAffected, nil
}
