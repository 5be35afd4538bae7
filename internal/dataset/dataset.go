package dataset

import (
	"strings"
	"unicode/utf8"

	"qaSynth/internal/extract"
)

// QAPair is one question/answer record destined for the output spreadsheet.
type QAPair struct {
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	QuestionLen int    `json:"question_length"`
	AnswerLen   int    `json:"answer_length"`
}

// NewQAPair trims both strings and computes their lengths in characters.
func NewQAPair(question, answer string) QAPair {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	return QAPair{
		Question:    question,
		Answer:      answer,
		QuestionLen: utf8.RuneCountInString(question),
		AnswerLen:   utf8.RuneCountInString(answer),
	}
}

// Dataset keeps records in insertion order and never admits a question twice.
// It is owned by a single goroutine.
type Dataset struct {
	records []QAPair
	seen    map[string]struct{}
}

// New returns an empty dataset.
func New() *Dataset {
	return &Dataset{seen: make(map[string]struct{})}
}

// Restore rebuilds a dataset from previously persisted records. Later duplicates are dropped.
func Restore(records []QAPair) *Dataset {
	ds := New()
	for _, rec := range records {
		if _, dup := ds.seen[rec.Question]; dup {
			continue
		}
		ds.seen[rec.Question] = struct{}{}
		ds.records = append(ds.records, rec)
	}
	return ds
}

// Accumulate appends every pair whose trimmed question has not been seen before.
// Pairs with an empty question or answer are skipped like duplicates.
func (d *Dataset) Accumulate(pairs []extract.Pair) (added, skipped int) {
	for _, pair := range pairs {
		rec := NewQAPair(pair.Question, pair.Answer)
		if rec.Question == "" || rec.Answer == "" {
			skipped++
			continue
		}
		if _, dup := d.seen[rec.Question]; dup {
			skipped++
			continue
		}
		d.seen[rec.Question] = struct{}{}
		d.records = append(d.records, rec)
		added++
	}
	return added, skipped
}

// Has reports whether question was already accepted.
func (d *Dataset) Has(question string) bool {
	_, ok := d.seen[strings.TrimSpace(question)]
	return ok
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	return len(d.records)
}

// Records returns the records in insertion order. The slice must not be modified.
func (d *Dataset) Records() []QAPair {
	return d.records
}

// Tail returns the last n records, i.e. the ones added by the latest Accumulate call.
func (d *Dataset) Tail(n int) []QAPair {
	if n <= 0 {
		return nil
	}
	if n > len(d.records) {
		n = len(d.records)
	}
	return d.records[len(d.records)-n:]
}
