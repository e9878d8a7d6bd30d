package persist

import (
	"context"
	"sync"

	"github.com/ChamsBouzaiene/askme/internal/chat"
)

// MemoryAdapter keeps the snapshot in process memory.
type MemoryAdapter struct {
	mu      sync.Mutex
	data    chat.Collection
	saves   int
	saveErr error
	loadErr error
}

// NewMemoryAdapter returns an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{}
}

// NewMemoryAdapterWith returns an adapter preloaded with c.
func NewMemoryAdapterWith(c chat.Collection) *MemoryAdapter {
	return &MemoryAdapter{data: c.Clone()}
}

func (m *MemoryAdapter) Load(ctx context.Context) (chat.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.data == nil {
		return chat.Collection{}, nil
	}
	return m.data.Clone(), nil
}

func (m *MemoryAdapter) Save(ctx context.Context, c chat.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data = c.Clone()
	return nil
}

func (m *MemoryAdapter) Close() error { return nil }

// Saves reports how many times Save was called.
func (m *MemoryAdapter) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Snapshot returns a copy of the last saved collection.
func (m *MemoryAdapter) Snapshot() chat.Collection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Clone()
}

// FailSaves makes every following Save return err (nil restores normal behaviour).
func (m *MemoryAdapter) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// FailLoads makes every following Load return err.
func (m *MemoryAdapter) FailLoads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}
