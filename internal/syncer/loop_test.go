package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/TGOO-Worldwide/siliviat-app/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOnline struct {
	mu     sync.Mutex
	online bool
	subs   []func(bool)
}

func (f *fakeOnline) IsOnline() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeOnline) Subscribe(fn func(bool)) func() {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeOnline) set(online bool) {
	f.mu.Lock()
	f.online = online
	subs := append(([]func(bool))(nil), f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}

func TestReconnectTriggersDrain(t *testing.T) {
	s := newStore(t)
	d := newFakeDispatcher()
	enqueue(t, s, models.EventCheckin, `{}`)

	online := &fakeOnline{}
	loop := NewLoop(NewEngine(s, d, nil, Options{}, zap.NewNop()), s, online, time.Hour, time.Hour, zap.NewNop())
	loop.Start()
	defer loop.Stop()

	online.set(true)

	require.Eventually(t, func() bool {
		n, _ := s.Count(context.Background())
		return n == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, d.callCount())
}

func TestPeriodicDrainOnlyWhenOnline(t *testing.T) {
	s := newStore(t)
	d := newFakeDispatcher()
	enqueue(t, s, models.EventCompany, `{"name":"a"}`)

	online := &fakeOnline{}
	loop := NewLoop(NewEngine(s, d, nil, Options{}, zap.NewNop()), s, online, 10*time.Millisecond, time.Second, zap.NewNop())
	loop.Start()
	defer loop.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, d.callCount())

	online.mu.Lock()
	online.online = true
	online.mu.Unlock()

	require.Eventually(t, func() bool { return d.callCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestManualTriggersCoalesce(t *testing.T) {
	s := newStore(t)
	d := newFakeDispatcher()
	loop := NewLoop(NewEngine(s, d, nil, Options{}, zap.NewNop()), s, &fakeOnline{}, time.Hour, time.Hour, zap.NewNop())

	for i := 0; i < 10; i++ {
		loop.Trigger()
	}
	assert.Len(t, loop.trigger, 1)
}

func TestBackoffDelay(t *testing.T) {
	loop := NewLoop(nil, nil, &fakeOnline{}, time.Minute, 10*time.Minute, zap.NewNop())
	defer loop.cancel()

	want := []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute, 10 * time.Minute, 10 * time.Minute}
	for failures, d := range want {
		loop.failures = failures
		assert.Equal(t, d, loop.nextDelay(), "failures=%d", failures)
	}
}

func TestStopCancelsLoop(t *testing.T) {
	s := newStore(t)
	loop := NewLoop(NewEngine(s, newFakeDispatcher(), nil, Options{}, zap.NewNop()), s, &fakeOnline{}, time.Millisecond, time.Millisecond, zap.NewNop())
	loop.Start()
	loop.Stop()
	loop.Stop()
}
