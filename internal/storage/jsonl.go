package storage

import (
	"context"
	"sync"

	"qaSynth/internal/dataset"
)

// JSONLStore keeps a training-ready export in sync with the dataset. Every save
// rewrites the whole file from the pairs accumulated so far.
type JSONLStore struct {
	path   string
	source string

	mu      sync.Mutex
	records []dataset.QAPair
	seen    map[string]struct{}
}

// NewJSONLStore returns a store exporting to path. Source is stamped on every example.
func NewJSONLStore(path, source string) *JSONLStore {
	return &JSONLStore{path: path, source: source, seen: make(map[string]struct{})}
}

// SavePairs adds unseen pairs and rewrites the export.
func (s *JSONLStore) SavePairs(_ context.Context, records []Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := 0
	for _, rec := range records {
		if _, dup := s.seen[rec.Question]; dup {
			continue
		}
		s.seen[rec.Question] = struct{}{}
		s.records = append(s.records, rec.QAPair)
		saved++
	}
	if saved == 0 {
		return 0, nil
	}
	if err := dataset.WriteJSONL(s.path, dataset.BuildExamples(s.records, s.source)); err != nil {
		return 0, err
	}
	return saved, nil
}

// Close satisfies the Store interface.
func (s *JSONLStore) Close() error { return nil }
