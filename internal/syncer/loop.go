package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/TGOO-Worldwide/siliviat-app/internal/queue"

	"go.uber.org/zap"
)

// OnlineSource is the connectivity signal the loop reacts to.
type OnlineSource interface {
	IsOnline() bool
	Subscribe(fn func(online bool)) func()
}

// Loop triggers drains when connectivity returns, on demand, and on a
// periodic tick that backs off exponentially after failed drains.
type Loop struct {
	engine     *Engine
	store      queue.Store
	online     OnlineSource
	interval   time.Duration
	maxBackoff time.Duration
	logger     *zap.Logger

	trigger     chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	stopOnce    sync.Once
	wg          sync.WaitGroup

	failures int
}

func NewLoop(engine *Engine, store queue.Store, online OnlineSource, interval, maxBackoff time.Duration, logger *zap.Logger) *Loop {
	if maxBackoff < interval {
		maxBackoff = interval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		engine:     engine,
		store:      store,
		online:     online,
		interval:   interval,
		maxBackoff: maxBackoff,
		logger:     logger,
		trigger:    make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (l *Loop) Start() {
	l.unsubscribe = l.online.Subscribe(func(online bool) {
		if online {
			l.Trigger()
		}
	})

	l.wg.Add(1)
	go l.run()

	l.logger.Info("Sync loop started", zap.Duration("interval", l.interval))
}

// Stop waits for the loop to exit. A drain in flight keeps running until
// the engine is closed.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		if l.unsubscribe != nil {
			l.unsubscribe()
		}
		l.cancel()
	})
	l.wg.Wait()
	l.logger.Info("Sync loop stopped")
}

// Trigger asks for a drain. Triggers arriving while one is pending collapse
// into it.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	defer l.wg.Done()

	timer := time.NewTimer(l.interval)
	defer timer.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-l.trigger:
			l.drain()
		case <-timer.C:
			if l.shouldDrain() {
				l.drain()
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(l.nextDelay())
	}
}

func (l *Loop) shouldDrain() bool {
	if !l.online.IsOnline() {
		return false
	}
	n, err := l.store.Count(l.ctx)
	if err != nil {
		l.logger.Error("Failed to get pending count", zap.Error(err))
		return false
	}
	return n > 0
}

func (l *Loop) drain() {
	result := l.engine.SyncPendingEvents(l.ctx)
	if result.Failed > 0 {
		l.failures++
	} else {
		l.failures = 0
	}
}

func (l *Loop) nextDelay() time.Duration {
	d := l.interval
	for i := 0; i < l.failures && d < l.maxBackoff; i++ {
		d *= 2
	}
	if d > l.maxBackoff {
		d = l.maxBackoff
	}
	return d
}
