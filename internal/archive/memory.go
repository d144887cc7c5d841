// Package archive persists raw fetched page snapshots and hands back a URI.
// The orchestrator archives every successful fetch before extraction so bad
// schema changes can be replayed against the original markup.
package archive

import (
	"context"
	"fmt"
	"sync"
)

// Memory stores snapshots in-process and returns pseudo URIs. Meant for
// development and tests.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory archive.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Put persists the content and returns a memory:// URI.
func (m *Memory) Put(_ context.Context, path string, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Len returns the number of stored snapshots (tests).
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Get returns a stored snapshot (tests).
func (m *Memory) Get(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}
