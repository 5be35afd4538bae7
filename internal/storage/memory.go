package storage

import (
	"context"
	"sync"
)

// DefaultRecent is how many pairs an InMemoryStore keeps when no limit is given.
const DefaultRecent = 50

// InMemoryStore is a thread-safe store that keeps the most recent pairs, newest first.
// The status server reads from it while the pipeline writes.
type InMemoryStore struct {
	mu      sync.RWMutex
	limit   int
	records []Record
	seen    map[string]struct{}
}

// NewInMemoryStore constructs an empty store holding up to limit pairs.
func NewInMemoryStore(limit int) *InMemoryStore {
	if limit <= 0 {
		limit = DefaultRecent
	}
	return &InMemoryStore{limit: limit, seen: make(map[string]struct{})}
}

// SavePairs prepends records that were not seen before.
func (s *InMemoryStore) SavePairs(_ context.Context, records []Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := 0
	for _, rec := range records {
		if _, dup := s.seen[rec.Question]; dup {
			continue
		}
		s.seen[rec.Question] = struct{}{}
		s.records = append([]Record{rec}, s.records...)
		saved++
	}
	if len(s.records) > s.limit {
		s.records = s.records[:s.limit]
	}
	return saved, nil
}

// ListPairs returns a snapshot of the newest pairs.
func (s *InMemoryStore) ListPairs(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.records)
	if limit > 0 && limit < n {
		n = limit
	}
	snapshot := make([]Record, n)
	copy(snapshot, s.records[:n])
	return snapshot, nil
}

// Close satisfies the Store interface.
func (s *InMemoryStore) Close() error { return nil }
