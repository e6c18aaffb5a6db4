package beacon

import (
	"context"
	"sync"
)

// MemoryBackend is a process-local Backend. Nothing survives a restart.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Apply implements Backend.
func (m *MemoryBackend) Apply(_ context.Context, batch Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range batch.Deletes {
		delete(m.data, k)
	}
	for k, v := range batch.Puts {
		c := make([]byte, len(v))
		copy(c, v)
		m.data[k] = c
	}
	return nil
}

// Set writes a raw value, bypassing encoding. Used to seed fixtures.
func (m *MemoryBackend) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}
