package processor

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/distill/internal/models"
	"github.com/xhad/distill/pkg/llm"
)

func TestChunker_ShortTextIsOneChunk(t *testing.T) {
	c := NewChunker(100, 10)
	chunks := c.Split("This is a test document.")
	require.Len(t, chunks, 1)
	assert.Equal(t, models.Chunk{Index: 0, Source: 0, Text: "This is a test document."}, chunks[0])
}

func TestChunker_RespectsSizeAndOrder(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "Sentence number %03d talks about rents. ", i)
		if i%7 == 6 {
			b.WriteString("\n\n")
		}
	}
	text := b.String()

	c := NewChunker(300, 50)
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 300)
	}

	// every sentence survives in some chunk, and first appearances are ordered
	last := -1
	for i := 0; i < 200; i++ {
		marker := fmt.Sprintf("number %03d", i)
		found := -1
		for j, ch := range chunks {
			if strings.Contains(ch.Text, marker) {
				found = j
				break
			}
		}
		require.GreaterOrEqual(t, found, 0, "missing %s", marker)
		assert.GreaterOrEqual(t, found, last)
		last = found
	}
}

func TestChunker_ConsecutiveChunksOverlap(t *testing.T) {
	filler := strings.Repeat("lorem ", 163)
	var b strings.Builder
	for i := 0; b.Len() < 100000; i++ {
		fmt.Fprintf(&b, "Paragraph %05d. %s\n\n", i, filler)
	}

	chunks := NewChunker(20000, 500).Split(b.String())
	require.Greater(t, len(chunks), 4)

	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1].Text)
		require.GreaterOrEqual(t, len(prev), 500)
		shared := string(prev[len(prev)-500:])
		assert.True(t, strings.HasPrefix(chunks[i].Text, shared), "chunk %d does not start with the tail of chunk %d", i+1, i)
		assert.LessOrEqual(t, utf8.RuneCountInString(chunks[i].Text), 20000)
	}
}

func TestChunker_NoOverlapWhenDisabled(t *testing.T) {
	text := strings.Repeat("Rents rose. ", 100)
	chunks := NewChunker(120, 0).Split(text)
	require.Greater(t, len(chunks), 1)

	var joined int
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 120)
		joined += strings.Count(ch.Text, "Rents")
	}
	assert.Equal(t, 100, joined)
}

func TestChunker_Idempotent(t *testing.T) {
	text := strings.Repeat("Market rents rose again. Vacancy fell.\n", 400)
	c := NewChunker(500, 100)
	assert.Equal(t, c.Split(text), c.Split(text))
}

func TestChunker_UnbrokenTextIsCapped(t *testing.T) {
	text := strings.Repeat("é", 1050)
	chunks := NewChunker(100, 20).Split(text)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 100)
		assert.True(t, utf8.ValidString(ch.Text))
	}
}

func TestSplitRunes(t *testing.T) {
	assert.Equal(t, []string{"abcd", "cdef", "efgh", "ghij"}, splitRunes("abcdefghij", 4, 2))
	assert.Equal(t, []string{"abc", "def", "g"}, splitRunes("abcdefg", 3, 0))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("12345678"))
	assert.Equal(t, 62500, EstimateTokens(strings.Repeat("a", 250000)))
	// characters, not bytes
	assert.Equal(t, 1, EstimateTokens("日本語です"))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "日本", truncateRunes("日本語", 2))
	assert.Equal(t, "abc", truncateRunes("abc", 10))
	assert.Equal(t, "", truncateRunes("abc", 0))
}

func TestSampleChunks(t *testing.T) {
	var chunks []models.Chunk
	for i := 0; i < 7; i++ {
		chunks = append(chunks, models.Chunk{Index: i, Source: i, Text: fmt.Sprint(i)})
	}

	tests := []struct {
		name  string
		max   int
		texts []string
	}{
		{"under limit", 10, []string{"0", "1", "2", "3", "4", "5", "6"}},
		{"stride two", 3, []string{"0", "2", "4"}},
		{"stride one keeps head", 5, []string{"0", "1", "2", "3", "4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sampleChunks(chunks, tt.max)
			require.Len(t, got, len(tt.texts))
			for i, c := range got {
				assert.Equal(t, tt.texts[i], c.Text)
				assert.Equal(t, i, c.Index)
			}
		})
	}

	got := sampleChunks(chunks, 3)
	assert.Equal(t, []int{0, 2, 4}, []int{got[0].Source, got[1].Source, got[2].Source})
}

func TestMakeBatches(t *testing.T) {
	results := make([]string, 25)
	batches := makeBatches(results, 10)
	require.Len(t, batches, 3)
	assert.Equal(t, 1, batches[0].Number)
	assert.Len(t, batches[0].Texts, 10)
	assert.Len(t, batches[2].Texts, 5)
	assert.Equal(t, 3, batches[2].Number)
	assert.Empty(t, makeBatches(nil, 10))
}

func TestLabelResult(t *testing.T) {
	tests := []struct {
		name string
		in   models.ChunkResult
		want string
	}{
		{"ok", models.ChunkResult{Index: 0, Text: "fine"}, "[Chunk 1]\nfine"},
		{"plain error", models.ChunkResult{Index: 2, Err: errors.New("bad input")}, "[Chunk 3]\n[Error: bad input]"},
		{"generation error", models.ChunkResult{Index: 4, Err: &llm.GenerationError{Op: "invoke", Kind: llm.KindTransport, Err: errors.New("x")}}, "[Chunk 5]\n[Processing failed]"},
		{"panic", models.ChunkResult{Index: 9, Err: fmt.Errorf("%w: nil map", ErrProcessingFailed)}, "[Chunk 10]\n[Processing failed]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, labelResult("Chunk", tt.in))
		})
	}
}
