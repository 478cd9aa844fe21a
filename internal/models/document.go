package models

// Document is a caller supplied text blob. It is never modified once loaded.
type Document struct {
	ID       string
	URL      string
	Title    string
	Content  string
	Metadata map[string]interface{}
}

// ProcessingRequest is one top-level synthesis call.
type ProcessingRequest struct {
	Documents    []string
	Instruction  string
	SystemPrompt string
}

// Chunk is an ordered slice of a parent text. Index is local to the split
// that produced it; Source is the index before any down-sampling.
type Chunk struct {
	Index  int
	Source int
	Text   string
}

// ChunkResult pairs a synthesized chunk output with its originating index.
type ChunkResult struct {
	Index int
	Text  string
	Err   error
}

// SynthesisBatch is a contiguous group of chunk outputs. Number is 1-based
// and only used for labels and logging.
type SynthesisBatch struct {
	Number int
	Texts  []string
}

// Passage is a retrieved snippet used as extra context for extraction.
type Passage struct {
	Source string
	Text   string
	Score  float64
}

// Contents returns the text of each document in order.
func Contents(docs []Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Content)
	}
	return out
}
