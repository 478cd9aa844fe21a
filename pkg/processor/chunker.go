package processor

import (
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/xhad/distill/internal/models"
)

// Paragraph, line and sentence boundaries are tried before falling back to
// words and finally single characters.
var defaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", " ", ""}

// Chunker splits text into chunks of at most ChunkSize runes. Each chunk
// after the first starts with the last ChunkOverlap runes of the one before.
type Chunker struct {
	ChunkSize    int
	ChunkOverlap int
	splitter     textsplitter.RecursiveCharacter
}

func NewChunker(chunkSize, chunkOverlap int) Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}

	// Boundaries are found on the stride; the overlap is carried over
	// explicitly so it holds however long the paragraphs are.
	return Chunker{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize-chunkOverlap),
			textsplitter.WithChunkOverlap(0),
			textsplitter.WithSeparators(defaultSeparators),
		),
	}
}

// Split returns the chunks of text in order. Text that already fits yields
// exactly one chunk.
func (c Chunker) Split(text string) []models.Chunk {
	if utf8.RuneCountInString(text) <= c.ChunkSize {
		return []models.Chunk{{Index: 0, Source: 0, Text: text}}
	}

	stride := c.ChunkSize - c.ChunkOverlap
	parts, err := c.splitter.SplitText(text)
	if err != nil || len(parts) == 0 {
		parts = []string{text}
	}

	var bodies []string
	for _, part := range parts {
		// The recursive splitter can overshoot on long unbroken runs.
		if utf8.RuneCountInString(part) > stride {
			bodies = append(bodies, splitRunes(part, stride, 0)...)
			continue
		}
		bodies = append(bodies, part)
	}

	chunks := make([]models.Chunk, 0, len(bodies))
	for i, body := range bodies {
		if i > 0 && c.ChunkOverlap > 0 {
			body = tailRunes(bodies[i-1], c.ChunkOverlap) + body
		}
		chunks = append(chunks, models.Chunk{Index: i, Source: i, Text: body})
	}

	return chunks
}

func splitRunes(text string, size, overlap int) []string {
	runes := []rune(text)
	step := size - overlap
	if step <= 0 {
		step = size
	}

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// EstimateTokens approximates tokens as one per four characters.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 4
}

func tailRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[len(runes)-n:])
}

func truncateRunes(text string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	return string([]rune(text)[:max])
}
