package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mediagit/mediagit/mgerr"
)

// Mock is an in-memory KV used by tests and as a reference implementation
// of the KV contract.
type Mock struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMock creates an empty in-memory KV.
func NewMock() *Mock {
	return &Mock{data: make(map[string][]byte)}
}

func (m *Mock) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, mgerr.Newf(mgerr.NotFound, "key %q not found", key)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Mock) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *Mock) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *Mock) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Mock) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Mock) Close() error { return nil }
