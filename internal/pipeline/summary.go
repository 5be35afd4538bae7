package pipeline

import "qaSynth/internal/extract"

// Outcome is what happened to one chunk.
type Outcome int

const (
	OutcomeProcessed Outcome = iota
	OutcomeFailed
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ChunkResult is the per-chunk record kept in the run summary.
// For processed chunks Err holds checkpoint or mirror failures; for failed chunks the model error.
type ChunkResult struct {
	Index    int
	Outcome  Outcome
	Strategy extract.Strategy
	Found    int
	Added    int
	Skipped  int
	// Oversized counts pairs dropped because a workbook cell cannot hold them.
	Oversized int
	Err       error
}

// Summary describes a finished (or aborted) run.
type Summary struct {
	RunID       string
	TotalChunks int
	Results     []ChunkResult
	// Records is the dataset size at the end, including restored records.
	Records int
	// Added counts records created by this run.
	Added int
}

// Count returns how many chunks ended with outcome.
func (s Summary) Count(outcome Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

// Failed returns the results of chunks whose model call failed.
func (s Summary) Failed() []ChunkResult {
	var out []ChunkResult
	for _, r := range s.Results {
		if r.Outcome == OutcomeFailed {
			out = append(out, r)
		}
	}
	return out
}
