package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store used by dry runs and tests. SaveErr, when
// set, is returned by every Save without storing anything.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	saves   int

	SaveErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

// Seed replaces the stored record for env.
func (m *MemoryStore) Seed(env string, rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[env] = rec.Clone()
}

func (m *MemoryStore) Load(_ context.Context, env string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[env]
	if !ok {
		m.records[env] = Record{}
		return Record{}, nil
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, env string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.saves++
	m.records[env] = rec.Clone()
	return nil
}

// Saves returns the number of successful Save calls.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
