package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Prober checks whether the backend is reachable.
type Prober interface {
	HealthCheck(ctx context.Context) error
}

// Monitor tracks online/offline state by probing the backend on an
// interval. Subscribers hear about transitions only, never repeated states.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.RWMutex
	online bool
	subs   map[uint64]func(bool)
	nextID uint64

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewMonitor(prober Prober, interval, timeout time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		prober:   prober,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		subs:     make(map[uint64]func(bool)),
		stopChan: make(chan struct{}),
	}
}

// Start probes once immediately, then keeps probing until Stop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.probeLoop()

	m.logger.Info("Connectivity monitor started",
		zap.Duration("interval", m.interval),
	)
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()
	m.logger.Info("Connectivity monitor stopped")
}

// IsOnline is a best-effort reading. It starts false until the first probe.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers fn for transitions and returns its unsubscribe func.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Set records an externally observed state, e.g. a network change reported
// by the UI. It notifies subscribers only if the state changed.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	if changed {
		for _, fn := range m.subs {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}

	m.logger.Info("Connectivity changed", zap.Bool("online", online))
	for _, fn := range subs {
		fn(online)
	}
}

func (m *Monitor) probeLoop() {
	defer m.wg.Done()

	m.probe()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probe()
		case <-m.stopChan:
			return
		}
	}
}

func (m *Monitor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	go func() {
		select {
		case <-m.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := m.prober.HealthCheck(ctx)

	select {
	case <-m.stopChan:
		return
	default:
	}

	if err != nil {
		m.logger.Debug("Health probe failed", zap.Error(err))
	}
	m.Set(err == nil)
}
