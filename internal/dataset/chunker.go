package dataset

import "strings"

// DefaultChunkSize is the number of paragraphs per chunk when none is configured.
const DefaultChunkSize = 50

// Chunk is a contiguous group of paragraphs sent to the model as one request.
type Chunk struct {
	Index      int
	Paragraphs []string
	Text       string
}

// SplitParagraphs trims every line of text, drops the empty ones and groups the rest
// into chunks of size paragraphs. The last chunk may be shorter. The result only depends
// on text and size, so chunk indexes stay valid across resumed runs.
func SplitParagraphs(text string, size int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}

	var paragraphs []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}

	chunks := make([]Chunk, 0, (len(paragraphs)+size-1)/size)
	for start := 0; start < len(paragraphs); start += size {
		end := min(start+size, len(paragraphs))
		group := paragraphs[start:end]
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Paragraphs: group,
			Text:       strings.Join(group, "\n"),
		})
	}
	return chunks
}
