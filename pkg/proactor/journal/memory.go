package journal

import (
	"slices"
	"sync"
)

// MemoryStore is an in-memory journal for tests and short-lived processes.
// Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

// Save implements Store.
func (m *MemoryStore) Save(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	rec.Stages = slices.Clone(rec.Stages)
	m.records[rec.EventID] = rec
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(eventID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Record{}, ErrStoreClosed
	}
	rec, ok := m.records[eventID]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Stages = slices.Clone(rec.Stages)
	return rec, nil
}

// List implements Store.
func (m *MemoryStore) List(pipeline string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	var out []Record
	for _, rec := range m.records {
		if rec.Pipeline == pipeline {
			rec.Stages = slices.Clone(rec.Stages)
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, compareRecords)
	return out, nil
}

// Counts implements Store.
func (m *MemoryStore) Counts(pipeline string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	counts := make(map[string]int)
	for _, rec := range m.records {
		if rec.Pipeline == pipeline {
			counts[rec.Status]++
		}
	}
	return counts, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.records, eventID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = nil
	return nil
}

func compareRecords(a, b Record) int {
	if c := a.CompletedAt.Compare(b.CompletedAt); c != 0 {
		return c
	}
	switch {
	case a.EventID < b.EventID:
		return -1
	case a.EventID > b.EventID:
		return 1
	}
	return 0
}
