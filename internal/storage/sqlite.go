package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore keeps pairs in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS qa_pairs (
		question TEXT PRIMARY KEY,
		answer TEXT NOT NULL,
		question_length INTEGER NOT NULL,
		answer_length INTEGER NOT NULL,
		run_id TEXT,
		chunk INTEGER,
		created_at TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create qa_pairs table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SavePairs inserts the records in one transaction. Existing questions are ignored.
func (s *SQLiteStore) SavePairs(ctx context.Context, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO qa_pairs
		(question, answer, question_length, answer_length, run_id, chunk, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	saved := 0
	for _, rec := range records {
		res, err := stmt.ExecContext(ctx, rec.Question, rec.Answer, rec.QuestionLen, rec.AnswerLen,
			rec.RunID, rec.Chunk, rec.CreatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return 0, fmt.Errorf("insert pair: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			saved += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return saved, nil
}

// ListPairs returns the most recently stored pairs.
func (s *SQLiteStore) ListPairs(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultRecent
	}
	rows, err := s.db.QueryContext(ctx, `SELECT question, answer, question_length, answer_length,
		COALESCE(run_id, ''), COALESCE(chunk, 0), created_at
		FROM qa_pairs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pairs: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		var created string
		if err := rows.Scan(&rec.Question, &rec.Answer, &rec.QuestionLen, &rec.AnswerLen, &rec.RunID, &rec.Chunk, &created); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pairs: %w", err)
	}
	return records, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
