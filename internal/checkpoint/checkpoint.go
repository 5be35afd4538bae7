package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"qaSynth/internal/dataset"
)

const (
	// DataSheet holds the question/answer rows.
	DataSheet = "Dataset"
	// ProgressSheet is hidden and holds key/value rows describing how far the run got.
	ProgressSheet = "_progress"
)

// Header is the first row of the data sheet.
var Header = []string{"Вопрос", "Ответ", "Длина вопроса", "Длина ответа"}

// ErrNoCheckpoint is returned by Load when the workbook does not exist.
var ErrNoCheckpoint = errors.New("checkpoint not found")

// ErrCellTooLong is returned by Save when a question or answer exceeds MaxCellChars.
var ErrCellTooLong = errors.New("text exceeds spreadsheet cell limit")

// MaxCellChars is the most characters a workbook cell holds. Longer text would be cut.
const MaxCellChars = excelize.TotalCellChars

const (
	keyChunksDone = "chunks_done"
	keyChunkSize  = "chunk_size"
	keyFailed     = "failed_chunks"
	keyRunID      = "run_id"
	keySource     = "source"
	keyUpdatedAt  = "updated_at"
)

// Progress is persisted next to the records so a later run knows which chunks to skip.
type Progress struct {
	// ChunksDone is the highest chunk count reached.
	ChunksDone int
	ChunkSize  int
	// Failed holds 0-based indexes below ChunksDone whose model call failed.
	Failed    []int
	RunID     string
	Source    string
	UpdatedAt time.Time
}

// Snapshot is the content of an existing checkpoint.
type Snapshot struct {
	Records  []dataset.QAPair
	Progress Progress
	// HasProgress is false for workbooks written without the progress sheet
	// or whose progress sheet could not be parsed.
	HasProgress bool
	// ProgressErr explains why an existing progress sheet was ignored.
	ProgressErr error
}

// Fits reports whether rec can be stored without truncation.
func Fits(rec dataset.QAPair) bool {
	return rec.QuestionLen <= MaxCellChars && rec.AnswerLen <= MaxCellChars
}

// Store reads and writes the dataset workbook at Path.
type Store struct {
	Path string
}

// New returns a store for path.
func New(path string) *Store {
	return &Store{Path: path}
}

// Exists reports whether the workbook is present.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.Path)
	return err == nil && !info.IsDir()
}

// Save replaces the workbook with records and progress. The file is written next to
// the target and renamed over it, so a crash never leaves a truncated workbook behind.
func (s *Store) Save(records []dataset.QAPair, progress Progress) error {
	for i, rec := range records {
		if !Fits(rec) {
			return fmt.Errorf("record %d (%d/%d characters): %w", i+1, rec.QuestionLen, rec.AnswerLen, ErrCellTooLong)
		}
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", DataSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeRow(f, DataSheet, 1, toRow(Header)); err != nil {
		return err
	}
	for i, rec := range records {
		row := []interface{}{rec.Question, rec.Answer, rec.QuestionLen, rec.AnswerLen}
		if err := writeRow(f, DataSheet, i+2, row); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(ProgressSheet); err != nil {
		return fmt.Errorf("create progress sheet: %w", err)
	}
	if progress.UpdatedAt.IsZero() {
		progress.UpdatedAt = time.Now()
	}
	pairs := [][]interface{}{
		{keyChunksDone, progress.ChunksDone},
		{keyChunkSize, progress.ChunkSize},
		{keyFailed, formatChunks(progress.Failed)},
		{keyRunID, progress.RunID},
		{keySource, progress.Source},
		{keyUpdatedAt, progress.UpdatedAt.UTC().Format(time.RFC3339)},
	}
	for i, row := range pairs {
		if err := writeRow(f, ProgressSheet, i+1, row); err != nil {
			return err
		}
	}
	f.SetActiveSheet(0)
	if err := f.SetSheetVisible(ProgressSheet, false); err != nil {
		return fmt.Errorf("hide progress sheet: %w", err)
	}

	return s.writeAtomic(f)
}

func (s *Store) writeAtomic(f *excelize.File) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.xlsx")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if err := f.Write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Load reads the workbook. Rows with an empty question or answer are ignored.
func (s *Store) Load() (Snapshot, error) {
	if !s.Exists() {
		return Snapshot{}, ErrNoCheckpoint
	}
	f, err := excelize.OpenFile(s.Path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	sheet := DataSheet
	if idx, err := f.GetSheetIndex(DataSheet); err != nil || idx < 0 {
		// Older workbooks keep the rows on their first sheet.
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return Snapshot{}, fmt.Errorf("checkpoint %s has no sheets", s.Path)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s rows: %w", sheet, err)
	}

	var snap Snapshot
	if len(rows) > 0 {
		qCol, aCol := headerColumns(rows[0])
		for _, row := range rows[1:] {
			if qCol >= len(row) || aCol >= len(row) {
				continue
			}
			rec := dataset.NewQAPair(row[qCol], row[aCol])
			if rec.Question == "" || rec.Answer == "" {
				continue
			}
			snap.Records = append(snap.Records, rec)
		}
	}

	if idx, err := f.GetSheetIndex(ProgressSheet); err == nil && idx >= 0 {
		progress, err := readProgress(f)
		if err != nil {
			snap.ProgressErr = err
		} else {
			snap.Progress = progress
			snap.HasProgress = true
		}
	}
	return snap, nil
}

func headerColumns(header []string) (question, answer int) {
	question, answer = 0, 1
	for i, cell := range header {
		switch strings.TrimSpace(cell) {
		case Header[0]:
			question = i
		case Header[1]:
			answer = i
		}
	}
	return question, answer
}

func readProgress(f *excelize.File) (Progress, error) {
	rows, err := f.GetRows(ProgressSheet)
	if err != nil {
		return Progress{}, fmt.Errorf("read progress: %w", err)
	}
	var p Progress
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		value := strings.TrimSpace(row[1])
		switch strings.TrimSpace(row[0]) {
		case keyChunksDone:
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return Progress{}, fmt.Errorf("invalid %s %q", keyChunksDone, value)
			}
			p.ChunksDone = n
		case keyChunkSize:
			if n, err := strconv.Atoi(value); err == nil {
				p.ChunkSize = n
			}
		case keyFailed:
			failed, err := parseChunks(value)
			if err != nil {
				return Progress{}, fmt.Errorf("invalid %s %q: %w", keyFailed, value, err)
			}
			p.Failed = failed
		case keyRunID:
			p.RunID = value
		case keySource:
			p.Source = value
		case keyUpdatedAt:
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				p.UpdatedAt = ts
			}
		}
	}
	return p, nil
}

// formatChunks writes 0-based indexes as 1-based chunk numbers, the way the error log counts them.
func formatChunks(indexes []int) string {
	parts := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		parts = append(parts, strconv.Itoa(idx+1))
	}
	return strings.Join(parts, ",")
}

func parseChunks(value string) ([]int, error) {
	if value == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		if n < 1 {
			return nil, fmt.Errorf("chunk number %d out of range", n)
		}
		out = append(out, n-1)
	}
	return out, nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toRow(values []string) []interface{} {
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}
