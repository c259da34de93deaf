package kv

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Memory is an in-process Storage used by tests and by callers that run
// without a database. Failure hooks let tests simulate persistence errors.
type Memory struct {
	mu   sync.Mutex
	data map[string]string

	// GetErr and SetErr, when non-nil, are returned by every Get/Set call.
	GetErr error
	SetErr error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return "", false, wrap("get", key, m.GetErr)
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return wrap("set", key, m.SetErr)
	}
	m.data[key] = value
	return nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return wrap("remove", key, m.SetErr)
	}
	delete(m.data, key)
	return nil
}

func (m *Memory) RemoveMany(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return wrap("remove_many", "", m.SetErr)
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *Memory) Update(ctx context.Context, key string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return wrap("update", key, m.GetErr)
	}
	old, ok := m.data[key]
	next, err := fn(old, ok)
	if errors.Is(err, ErrNoChange) {
		return nil
	}
	if err != nil {
		return err
	}
	if m.SetErr != nil {
		return wrap("update", key, m.SetErr)
	}
	m.data[key] = next
	return nil
}

// Stats returns the number of stored keys and the bytes held by keys and values.
func (m *Memory) Stats(ctx context.Context) (keys int64, sizeBytes int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.data {
		keys++
		sizeBytes += int64(len(k) + len(v))
	}
	return keys, sizeBytes, nil
}

func (m *Memory) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if hasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

var _ Storage = (*Memory)(nil)
