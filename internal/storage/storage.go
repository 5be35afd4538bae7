package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qaSynth/internal/dataset"
)

// Record is a dataset pair together with where it came from.
type Record struct {
	dataset.QAPair
	RunID     string    `json:"run_id"`
	Chunk     int       `json:"chunk"`
	CreatedAt time.Time `json:"created_at"`
}

// Store mirrors accepted pairs somewhere besides the checkpoint workbook.
// SavePairs must be idempotent per question: a question already stored is left untouched.
type Store interface {
	SavePairs(ctx context.Context, records []Record) (int, error)
	Close() error
}

// Lister is implemented by stores that can read pairs back.
type Lister interface {
	ListPairs(ctx context.Context, limit int) ([]Record, error)
}

// RecentSource picks what the status server lists pairs from: the first durable store
// that can read pairs back, so the listing spans earlier runs, or fallback otherwise.
func RecentSource(stores []Store, fallback Lister) Lister {
	for _, s := range stores {
		if lister, ok := s.(Lister); ok {
			return lister
		}
	}
	return fallback
}

// Options selects which mirror stores to open. Empty fields are skipped.
type Options struct {
	DatabaseURL string
	SQLitePath  string
	JSONLPath   string
	Source      string
}

// Open connects every configured store. On failure the stores opened so far are closed.
func Open(ctx context.Context, opts Options) ([]Store, error) {
	var stores []Store
	fail := func(err error) ([]Store, error) {
		CloseAll(stores)
		return nil, err
	}

	if opts.DatabaseURL != "" {
		pg, err := NewPostgresStore(ctx, opts.DatabaseURL)
		if err != nil {
			return fail(err)
		}
		stores = append(stores, pg)
	}
	if opts.SQLitePath != "" {
		lite, err := NewSQLiteStore(ctx, opts.SQLitePath)
		if err != nil {
			return fail(err)
		}
		stores = append(stores, lite)
	}
	if opts.JSONLPath != "" {
		stores = append(stores, NewJSONLStore(opts.JSONLPath, opts.Source))
	}
	return stores, nil
}

// CloseAll closes every store and joins the errors.
func CloseAll(stores []Store) error {
	var errs []error
	for _, s := range stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close stores: %w", errors.Join(errs...))
	}
	return nil
}

// NewRecords stamps pairs with the run and chunk that produced them.
func NewRecords(runID string, chunk int, pairs []dataset.QAPair) []Record {
	now := time.Now().UTC()
	out := make([]Record, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, Record{QAPair: p, RunID: runID, Chunk: chunk, CreatedAt: now})
	}
	return out
}
