package swap

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by Backend.Get when the key has no stored value.
var ErrNotFound = errors.New("swap: key not found in backing store")

// Backend is the cold secondary-storage interface the swap pipeline drives
// GET/PUT/DEL against. On-disk formats are out of scope (spec.md §1), so
// this is the full surface a concrete store needs: encoded-key/value
// bytes in, bytes or an error out.
type Backend interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Del(key []byte) error
}

// MemoryBackend is an in-memory reference Backend, sufficient to exercise
// every swap-queue transition spec.md §4.5 describes and to drive the
// end-to-end scenarios in spec.md §8, without needing a real disk or
// network-backed store (explicitly out of scope).
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryBackend builds an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryBackend) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

func (m *MemoryBackend) Del(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}
