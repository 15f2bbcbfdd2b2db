package settings

import (
	"context"
	"sync"
)

// MemoryRepository is a Repository kept in process memory.
type MemoryRepository struct {
	mu     sync.Mutex
	values map[string]string
	saves  int
}

// NewMemoryRepository returns a repository seeded with initial.
func NewMemoryRepository(initial map[string]string) *MemoryRepository {
	values := make(map[string]string, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &MemoryRepository{values: values}
}

func (m *MemoryRepository) LoadSettings(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryRepository) SaveSettings(ctx context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	m.saves++
	return nil
}

// Saves returns how many times SaveSettings was called.
func (m *MemoryRepository) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
