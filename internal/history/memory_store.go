package history

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory record store for development mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string // insertion order, oldest first
}

// NewMemoryStore creates a new in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) Create(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := copyRecord(r)
	m.records[r.ID] = cp
	m.order = append(m.order, r.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(r), nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Record
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, copyRecord(m.records[m.order[i]]))
	}
	return result, nil
}

// copyRecord deep-copies so callers cannot mutate stored state through
// the shared Signatures backing array.
func copyRecord(r *Record) *Record {
	cp := *r
	if r.Signatures != nil {
		cp.Signatures = make([]string, len(r.Signatures))
		copy(cp.Signatures, r.Signatures)
	}
	return &cp
}
