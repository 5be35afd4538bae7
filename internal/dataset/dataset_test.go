package dataset

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qaSynth/internal/extract"
)

func TestNewQAPair_TrimsAndCountsRunes(t *testing.T) {
	rec := NewQAPair("  Манас ким?  ", "\tбаатыр\n")

	assert.Equal(t, "Манас ким?", rec.Question)
	assert.Equal(t, "баатыр", rec.Answer)
	assert.Equal(t, 10, rec.QuestionLen)
	assert.Equal(t, 6, rec.AnswerLen)
}

func TestDataset_AccumulateSkipsDuplicates(t *testing.T) {
	ds := New()

	added, skipped := ds.Accumulate([]extract.Pair{
		{Question: "Q1", Answer: "A1"},
		{Question: " Q1 ", Answer: "other"},
		{Question: "Q2", Answer: "A2"},
		{Question: "   ", Answer: "orphan"},
		{Question: "Q4", Answer: " "},
	})

	assert.Equal(t, 2, added)
	assert.Equal(t, 3, skipped)
	require.Equal(t, 2, ds.Len())
	assert.Equal(t, "A1", ds.Records()[0].Answer)
	assert.True(t, ds.Has("Q2"))
	assert.False(t, ds.Has("Q3"))

	added, skipped = ds.Accumulate([]extract.Pair{{Question: "Q2", Answer: "again"}, {Question: "Q3", Answer: "A3"}})
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, []QAPair{NewQAPair("Q3", "A3")}, ds.Tail(added))
}

func TestDataset_QuestionsStayUnique(t *testing.T) {
	ds := New()
	batches := [][]extract.Pair{
		{{Question: "a", Answer: "1"}, {Question: "b", Answer: "2"}},
		{{Question: "b", Answer: "3"}, {Question: "c", Answer: "4"}, {Question: "a", Answer: "5"}},
		{{Question: "c ", Answer: "6"}, {Question: "d", Answer: "7"}},
	}
	for _, batch := range batches {
		ds.Accumulate(batch)
	}

	unique := map[string]struct{}{}
	for _, rec := range ds.Records() {
		unique[rec.Question] = struct{}{}
	}
	assert.Equal(t, len(unique), ds.Len())
	assert.Equal(t, 4, ds.Len())
}

func TestRestore_RebuildsSeenSet(t *testing.T) {
	ds := Restore([]QAPair{NewQAPair("Q1", "A1"), NewQAPair("Q1", "dup"), NewQAPair("Q2", "A2")})

	assert.Equal(t, 2, ds.Len())
	added, skipped := ds.Accumulate([]extract.Pair{{Question: "Q1", Answer: "x"}, {Question: "Q9", Answer: "y"}})
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, skipped)
}

func TestTail_Bounds(t *testing.T) {
	ds := Restore([]QAPair{NewQAPair("Q1", "A1")})

	assert.Nil(t, ds.Tail(0))
	assert.Len(t, ds.Tail(5), 1)
}

func TestWriteJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairs.jsonl")
	records := []QAPair{NewQAPair("Q1", "A1"), NewQAPair("Q2", "A2 <b>")}

	require.NoError(t, WriteJSONL(path, BuildExamples(records, "book.txt")))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var got []Example
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var ex Example
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ex))
		got = append(got, ex)
	}
	require.Len(t, got, 2)
	assert.Equal(t, Example{InputText: "Q2", OutputText: "A2 <b>", Source: "book.txt"}, got[1])
}
