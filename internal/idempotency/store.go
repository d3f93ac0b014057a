package idempotency

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Record is a stored response replayed verbatim for a repeated key.
type Record struct {
	StatusCode  int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

type Store interface {
	Get(ctx context.Context, key string) (*Record, bool, error)
	// Save stores rec only if key has no record yet. It reports whether
	// rec was stored.
	Save(ctx context.Context, key string, rec Record) (bool, error)
}

type memoryEntry struct {
	record   Record
	storedAt time.Time
}

// MemoryStore keeps records in process, expiring them after ttl.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]memoryEntry
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once
	cleanupWg sync.WaitGroup
}

func NewMemoryStore(ttl, cleanupInterval time.Duration, logger *zap.Logger) *MemoryStore {
	s := &MemoryStore{
		records:  make(map[string]memoryEntry),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
		stopChan: make(chan struct{}),
	}

	s.cleanupWg.Add(1)
	go s.cleanupLoop(cleanupInterval)

	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.records[key]
	if !ok || s.expired(e) {
		return nil, false, nil
	}
	rec := e.record
	return &rec, true, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.records[key]; ok && !s.expired(e) {
		return false, nil
	}
	s.records[key] = memoryEntry{record: rec, storedAt: s.now()}
	return true, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.cleanupWg.Wait()
}

func (s *MemoryStore) expired(e memoryEntry) bool {
	return s.now().Sub(e.storedAt) > s.ttl
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	defer s.cleanupWg.Done()

	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopChan:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for key, e := range s.records {
		if s.expired(e) {
			delete(s.records, key)
			expired++
		}
	}

	if expired > 0 {
		s.logger.Debug("Cleaned up idempotency records", zap.Int("count", expired))
	}
}
