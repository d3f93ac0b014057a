package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TGOO-Worldwide/siliviat-app/internal/database"
	"github.com/TGOO-Worldwide/siliviat-app/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

type storeFactory func(t testing.TB, opts ...Option) Store

var dbSeq atomic.Int64

func sqliteStore(t testing.TB, opts ...Option) Store {
	path := filepath.Join(t.TempDir(), fmt.Sprintf("queue-%d.db", dbSeq.Add(1)))
	db, err := database.New(path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEventQueue(db.DB, zap.NewNop(), opts...)
}

func memoryStore(_ testing.TB, opts ...Option) Store {
	return NewMemoryStore(opts...)
}

var factories = map[string]storeFactory{
	"sqlite": sqliteStore,
	"memory": memoryStore,
}

// steppingClock returns base, base+1ms, base+2ms, ...
func steppingClock(base time.Time) func() time.Time {
	var mu sync.Mutex
	next := base
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Millisecond)
		return t
	}
}

func TestStoreContract(t *testing.T) {
	for name, newStore := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("enqueue and count", func(t *testing.T) {
				s := newStore(t)
				payload := json.RawMessage(`{"companyId":"c1","checkInLat":38.7,"checkInLng":-9.1}`)

				id, err := s.Enqueue(ctx, models.EventCheckin, payload)
				require.NoError(t, err)
				assert.Regexp(t, regexp.MustCompile(`^checkin-\d+-[0-9a-f]{12}$`), id)

				n, err := s.Count(ctx)
				require.NoError(t, err)
				assert.Equal(t, 1, n)

				events, err := s.ListAll(ctx)
				require.NoError(t, err)
				require.Len(t, events, 1)
				assert.Equal(t, id, events[0].ID)
				assert.Equal(t, models.EventCheckin, events[0].Type)
				assert.Equal(t, 0, events[0].RetryCount)
				assert.Equal(t, string(payload), string(events[0].Payload))
			})

			t.Run("payload bytes survive unchanged", func(t *testing.T) {
				s := newStore(t)
				payload := json.RawMessage(`{ "noGpsReason" : "sem sinal",  "nested": {"a": [1, 2.50, null]} }`)

				_, err := s.Enqueue(ctx, models.EventCheckout, payload)
				require.NoError(t, err)

				events, err := s.ListAll(ctx)
				require.NoError(t, err)
				require.Len(t, events, 1)
				assert.Equal(t, []byte(payload), []byte(events[0].Payload))
			})

			t.Run("rejects unknown type and invalid payload", func(t *testing.T) {
				s := newStore(t)

				_, err := s.Enqueue(ctx, models.EventType("audio"), json.RawMessage(`{}`))
				assert.ErrorIs(t, err, ErrUnknownType)

				_, err = s.Enqueue(ctx, models.EventSale, json.RawMessage(`{broken`))
				assert.ErrorIs(t, err, ErrInvalidPayload)

				n, err := s.Count(ctx)
				require.NoError(t, err)
				assert.Zero(t, n)
			})

			t.Run("list is ordered by timestamp", func(t *testing.T) {
				base := time.UnixMilli(1_700_000_000_000)
				stamps := []time.Time{base.Add(3 * time.Second), base, base.Add(time.Second)}
				i := 0
				s := newStore(t, WithClock(func() time.Time {
					ts := stamps[i]
					i++
					return ts
				}))

				late, err := s.Enqueue(ctx, models.EventCheckout, json.RawMessage(`{}`))
				require.NoError(t, err)
				early, err := s.Enqueue(ctx, models.EventCheckin, json.RawMessage(`{}`))
				require.NoError(t, err)
				middle, err := s.Enqueue(ctx, models.EventSale, json.RawMessage(`{}`))
				require.NoError(t, err)

				events, err := s.ListAll(ctx)
				require.NoError(t, err)
				require.Len(t, events, 3)
				assert.Equal(t, []string{early, middle, late}, []string{events[0].ID, events[1].ID, events[2].ID})

				again, err := s.ListAll(ctx)
				require.NoError(t, err)
				assert.Equal(t, events, again)
			})

			t.Run("equal timestamps keep insertion order", func(t *testing.T) {
				fixed := time.UnixMilli(1_700_000_000_000)
				s := newStore(t, WithClock(func() time.Time { return fixed }))

				var ids []string
				for i := 0; i < 5; i++ {
					id, err := s.Enqueue(ctx, models.EventCompany, json.RawMessage(fmt.Sprintf(`{"name":"c%d"}`, i)))
					require.NoError(t, err)
					ids = append(ids, id)
				}

				events, err := s.ListAll(ctx)
				require.NoError(t, err)
				var got []string
				for _, ev := range events {
					got = append(got, ev.ID)
				}
				assert.Equal(t, ids, got)
			})

			t.Run("remove is idempotent", func(t *testing.T) {
				s := newStore(t)
				keep, err := s.Enqueue(ctx, models.EventCheckin, json.RawMessage(`{}`))
				require.NoError(t, err)
				drop, err := s.Enqueue(ctx, models.EventCheckout, json.RawMessage(`{}`))
				require.NoError(t, err)

				require.NoError(t, s.Remove(ctx, drop))
				require.NoError(t, s.Remove(ctx, drop))
				require.NoError(t, s.Remove(ctx, "never-existed"))

				events, err := s.ListAll(ctx)
				require.NoError(t, err)
				require.Len(t, events, 1)
				assert.Equal(t, keep, events[0].ID)
			})

			t.Run("increment retry", func(t *testing.T) {
				s := newStore(t)
				id, err := s.Enqueue(ctx, models.EventSale, json.RawMessage(`{}`))
				require.NoError(t, err)

				for i := 0; i < 4; i++ {
					require.NoError(t, s.IncrementRetry(ctx, id))
				}
				require.NoError(t, s.IncrementRetry(ctx, "missing"))

				events, err := s.ListAll(ctx)
				require.NoError(t, err)
				require.Len(t, events, 1)
				assert.Equal(t, 4, events[0].RetryCount)
			})

			t.Run("clear all", func(t *testing.T) {
				s := newStore(t)
				for i := 0; i < 3; i++ {
					_, err := s.Enqueue(ctx, models.EventCheckin, json.RawMessage(`{}`))
					require.NoError(t, err)
				}
				require.NoError(t, s.ClearAll(ctx))

				n, err := s.Count(ctx)
				require.NoError(t, err)
				assert.Zero(t, n)
			})
		})
	}
}

func TestEventQueueSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agent.db")

	db, err := database.New(path, zap.NewNop())
	require.NoError(t, err)
	id, err := NewEventQueue(db.DB, zap.NewNop()).Enqueue(ctx, models.EventCheckin, json.RawMessage(`{"companyId":"c1"}`))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = database.New(path, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	events, err := NewEventQueue(db.DB, zap.NewNop()).ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)
}

func TestCleanupOldEvents(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	clock := now.Add(-10 * 24 * time.Hour)

	q := sqliteStore(t, WithClock(func() time.Time { return clock })).(*EventQueue)

	stale, err := q.Enqueue(ctx, models.EventCheckin, json.RawMessage(`{}`))
	require.NoError(t, err)
	fresh, err := q.Enqueue(ctx, models.EventCheckout, json.RawMessage(`{}`))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.IncrementRetry(ctx, stale))
	}

	// fresh becomes recent, stale stays ten days old
	_, err = q.db.ExecContext(ctx, `UPDATE pending_events SET timestamp = ? WHERE id = ?`, now.UnixMilli(), fresh)
	require.NoError(t, err)

	clock = now
	removed, err := q.CleanupOldEvents(ctx, 7*24*time.Hour, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	events, err := q.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, fresh, events[0].ID)
}

func TestEventIDsAreUnique(t *testing.T) {
	ts := time.Now()
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewEventID(models.EventCheckin, ts)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestPropertyListAllIsOrdered(t *testing.T) {
	for name, newStore := range factories {
		t.Run(name, func(t *testing.T) {
			rapid.Check(t, func(rt *rapid.T) {
				stamps := rapid.SliceOfNDistinct(rapid.Int64Range(1_600_000_000_000, 1_800_000_000_000), 1, 15, rapid.ID[int64]).Draw(rt, "stamps")

				i := 0
				s := newStore(t, WithClock(func() time.Time {
					ts := time.UnixMilli(stamps[i])
					i++
					return ts
				}))

				ctx := context.Background()
				for range stamps {
					_, err := s.Enqueue(ctx, models.EventCheckin, json.RawMessage(`{}`))
					require.NoError(rt, err)
				}

				events, err := s.ListAll(ctx)
				require.NoError(rt, err)
				require.Len(rt, events, len(stamps))
				for j := 1; j < len(events); j++ {
					if events[j].Timestamp.Before(events[j-1].Timestamp) {
						rt.Fatalf("event %d (%v) before event %d (%v)", j, events[j].Timestamp, j-1, events[j-1].Timestamp)
					}
				}
			})
		})
	}
}

func TestPropertyRetryCountIsMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(rt, "n")
		s := NewMemoryStore()
		ctx := context.Background()

		id, err := s.Enqueue(ctx, models.EventCheckout, json.RawMessage(`{}`))
		require.NoError(rt, err)
		for i := 0; i < n; i++ {
			require.NoError(rt, s.IncrementRetry(ctx, id))
		}

		events, err := s.ListAll(ctx)
		require.NoError(rt, err)
		require.Len(rt, events, 1)
		require.Equal(rt, n, events[0].RetryCount)
	})
}

func TestPropertyRemoveTwiceLeavesQueueUnchanged(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		count := rapid.IntRange(1, 10).Draw(rt, "count")
		s := NewMemoryStore(WithClock(steppingClock(time.UnixMilli(1_700_000_000_000))))
		ctx := context.Background()

		var ids []string
		for i := 0; i < count; i++ {
			id, err := s.Enqueue(ctx, models.EventSale, json.RawMessage(`{}`))
			require.NoError(rt, err)
			ids = append(ids, id)
		}
		victim := ids[rapid.IntRange(0, count-1).Draw(rt, "victim")]

		require.NoError(rt, s.Remove(ctx, victim))
		before, err := s.ListAll(ctx)
		require.NoError(rt, err)

		require.NoError(rt, s.Remove(ctx, victim))
		after, err := s.ListAll(ctx)
		require.NoError(rt, err)

		require.Equal(rt, before, after)
		require.Len(rt, after, count-1)
	})
}
