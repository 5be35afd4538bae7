package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Example represents a single prompt/completion pair for fine-tuning.
type Example struct {
	InputText  string `json:"input_text"`
	OutputText string `json:"output_text"`
	Source     string `json:"source,omitempty"`
}

// BuildExamples converts records into fine-tuning examples tagged with their source document.
func BuildExamples(records []QAPair, source string) []Example {
	examples := make([]Example, 0, len(records))
	for _, rec := range records {
		examples = append(examples, Example{
			InputText:  rec.Question,
			OutputText: rec.Answer,
			Source:     source,
		})
	}
	return examples
}

// WriteJSONL serializes examples to disk as JSON Lines, replacing the file atomically.
func WriteJSONL(path string, examples []Example) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".qasynth-*.jsonl")
	if err != nil {
		return fmt.Errorf("create temp jsonl: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	for _, ex := range examples {
		if err := enc.Encode(ex); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
