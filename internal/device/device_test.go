package device

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string][]byte)
	}
	s.data[key] = value
	return nil
}

func TestResolvePrefersConfigured(t *testing.T) {
	m := NewManager(&memStore{}, zap.NewNop())
	id, err := m.Resolve(context.Background(), " tablet-7 ")
	require.NoError(t, err)
	assert.Equal(t, "tablet-7", id)
}

func TestResolveUsesMachineIDAndStoresIt(t *testing.T) {
	store := &memStore{}
	m := NewManager(store, zap.NewNop())
	m.machineID = func() (string, error) { return "abc123", nil }

	id, err := m.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	// the stored value wins even if the platform answer changes
	m.machineID = func() (string, error) { return "other", nil }
	id, err = m.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
}

func TestResolveGeneratesStableFallback(t *testing.T) {
	store := &memStore{}
	m := NewManager(store, zap.NewNop())
	m.machineID = func() (string, error) { return "", errors.New("no machine id") }

	first, err := m.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, first, 36)

	second, err := m.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
