package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProber struct {
	healthy atomic.Bool
	calls   atomic.Int32
}

func (p *fakeProber) HealthCheck(context.Context) error {
	p.calls.Add(1)
	if p.healthy.Load() {
		return nil
	}
	return errors.New("unreachable")
}

type recorder struct {
	mu  sync.Mutex
	got []bool
}

func (r *recorder) record(online bool) {
	r.mu.Lock()
	r.got = append(r.got, online)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.got...)
}

func TestSetFiresOnlyOnTransitions(t *testing.T) {
	m := NewMonitor(&fakeProber{}, time.Hour, time.Second, zap.NewNop())
	rec := &recorder{}
	m.Subscribe(rec.record)

	m.Set(false) // already offline
	m.Set(true)
	m.Set(true)
	m.Set(false)
	m.Set(false)
	m.Set(true)

	assert.Equal(t, []bool{true, false, true}, rec.snapshot())
	assert.True(t, m.IsOnline())
}

func TestUnsubscribe(t *testing.T) {
	m := NewMonitor(&fakeProber{}, time.Hour, time.Second, zap.NewNop())
	rec := &recorder{}
	unsubscribe := m.Subscribe(rec.record)

	m.Set(true)
	unsubscribe()
	unsubscribe()
	m.Set(false)

	assert.Equal(t, []bool{true}, rec.snapshot())
}

func TestProbeLoopTracksBackend(t *testing.T) {
	prober := &fakeProber{}
	prober.healthy.Store(true)

	m := NewMonitor(prober, 10*time.Millisecond, time.Second, zap.NewNop())
	rec := &recorder{}
	m.Subscribe(rec.record)

	m.Start()
	defer m.Stop()

	require.Eventually(t, m.IsOnline, time.Second, 5*time.Millisecond)

	prober.healthy.Store(false)
	require.Eventually(t, func() bool { return !m.IsOnline() }, time.Second, 5*time.Millisecond)

	// many probes, but only two transitions
	require.Eventually(t, func() bool { return prober.calls.Load() > 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.snapshot())
}

func TestStopIsIdempotent(t *testing.T) {
	m := NewMonitor(&fakeProber{}, 10*time.Millisecond, time.Second, zap.NewNop())
	m.Start()
	m.Stop()
	m.Stop()
}
