package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists pairs in the qa_pairs table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and makes sure the table exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS qa_pairs (
        question TEXT PRIMARY KEY,
        answer TEXT NOT NULL,
        question_length INTEGER NOT NULL,
        answer_length INTEGER NOT NULL,
        run_id TEXT,
        chunk INTEGER,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`)
	if err != nil {
		return fmt.Errorf("create qa_pairs table: %w", err)
	}

	var schemaAlters = []string{
		`ALTER TABLE qa_pairs ADD COLUMN IF NOT EXISTS run_id TEXT`,
		`ALTER TABLE qa_pairs ADD COLUMN IF NOT EXISTS chunk INTEGER`,
		`CREATE INDEX IF NOT EXISTS qa_pairs_run_id_idx ON qa_pairs (run_id)`,
	}
	for _, stmt := range schemaAlters {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("alter qa_pairs: %w", err)
		}
	}
	return nil
}

// SavePairs inserts the records in one batch and skips questions that already exist.
func (s *PostgresStore) SavePairs(ctx context.Context, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`INSERT INTO qa_pairs (question, answer, question_length, answer_length, run_id, chunk, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
            ON CONFLICT (question) DO NOTHING`,
			rec.Question, rec.Answer, rec.QuestionLen, rec.AnswerLen, rec.RunID, rec.Chunk, rec.CreatedAt)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	saved := 0
	for range records {
		tag, err := results.Exec()
		if err != nil {
			return saved, fmt.Errorf("insert pair: %w", err)
		}
		saved += int(tag.RowsAffected())
	}
	return saved, nil
}

// ListPairs returns the most recently stored pairs.
func (s *PostgresStore) ListPairs(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultRecent
	}
	rows, err := s.pool.Query(ctx, `SELECT question, answer, question_length, answer_length, COALESCE(run_id, ''), COALESCE(chunk, 0), created_at
        FROM qa_pairs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pairs: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Question, &rec.Answer, &rec.QuestionLen, &rec.AnswerLen, &rec.RunID, &rec.Chunk, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pairs: %w", err)
	}
	return records, nil
}

// Close releases database resources.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
