package kv

import "sync"

// Memory keeps values in process memory. It is mostly useful in tests and for
// running the CLI without a database file.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	return nil
}

func (m *Memory) Update(key string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, found := m.values[key]
	next, err := fn(old, found)
	if err != nil {
		return err
	}
	m.values[key] = next
	return nil
}

var _ Backend = (*Memory)(nil)
