package identity

import (
	"sync"
)

// Backend defines what the identity store needs from local persistent
// storage: plain string get/set, nothing more.
type Backend interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// MemoryBackend is an in-process Backend. It is used by tests and as the
// degraded fallback when no durable storage is available.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

func (m *MemoryBackend) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryBackend) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
