package credstore

import (
	"context"
	"errors"
	"maps"
	"sync"
)

var ErrNotFound = errors.New("credstore: not found")

// Backend is a storage tier. Concrete tiers (memory, sqlite) implement it; a
// tier that is unavailable in the current environment is replaced by Discard
// rather than checked for at every call site.
type Backend interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Put writes every entry or none of them.
	Put(ctx context.Context, entries map[string]string) error

	// Delete removes keys. Keys that are already absent are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// Memory is a process-local tier, used for tab-scoped values that must not
// outlive the tab.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Put(_ context.Context, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	maps.Copy(m.data, entries)
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Len reports how many keys are held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Discard is the tier used when storage is unavailable: writes vanish and
// every read misses.
var Discard Backend = discard{}

type discard struct{}

func (discard) Get(context.Context, string) (string, error)  { return "", ErrNotFound }
func (discard) Put(context.Context, map[string]string) error { return nil }
func (discard) Delete(context.Context, ...string) error      { return nil }
