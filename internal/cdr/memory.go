package cdr

import (
	"context"
	"sync"
	"time"
)

// defaultMemoryCapacity bounds the in-memory history.
const defaultMemoryCapacity = 1000

// MemoryStore is an in-memory [Store] holding the most recent records.
// It backs deployments without a database and unit tests.
type MemoryStore struct {
	mu       sync.Mutex
	records  []Record
	capacity int
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store retaining at most capacity records;
// capacity <= 0 selects the default.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity}
}

// Started implements [Store].
func (s *MemoryStore) Started(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if len(s.records) > s.capacity {
		s.records = s.records[len(s.records)-s.capacity:]
	}
	return nil
}

// Ended implements [Store].
func (s *MemoryStore) Ended(_ context.Context, callSID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].CallSID == callSID && s.records[i].EndedAt == nil {
			ended := at
			s.records[i].EndedAt = &ended
			return nil
		}
	}
	return nil
}

// Recent implements [Store].
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, 0, n)
	for i := len(s.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}
