package store

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process backend, used for tests and ephemeral pools.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string][]byte),
	}
}

func (m *Memory) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	value, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBytes(value), nil
}

func (m *Memory) Apply(writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	for _, w := range writes {
		if w.Delete {
			delete(m.data, string(w.Key))
			continue
		}
		m.data[string(w.Key)] = copyBytes(w.Value)
	}
	return nil
}

func (m *Memory) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = copyBytes(m.data[k])
	}
	m.mu.RUnlock()

	for i, k := range keys {
		if !fn([]byte(k), values[i]) {
			return nil
		}
	}
	return nil
}

// Snapshot copies the current contents. Memory pools are small enough for
// that to be cheaper than versioning every key.
func (m *Memory) Snapshot() (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	data := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		data[k] = v
	}
	return memorySnapshot(data), nil
}

type memorySnapshot map[string][]byte

func (s memorySnapshot) Get(key []byte) ([]byte, error) {
	value, ok := s[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBytes(value), nil
}

func (memorySnapshot) Release() {}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// CopyToMemory loads every key of src into a fresh Memory backend. Writes to
// the copy never reach src.
func CopyToMemory(src Backend) (*Memory, error) {
	dst := NewMemory()
	err := src.Iterate(nil, func(key, value []byte) bool {
		dst.data[string(key)] = copyBytes(value)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("copy backend: %w", err)
	}
	return dst, nil
}
