package processor_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/xhad/distill/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	System      string
	Instruction string
	Text        string
}

func (c call) isFinal() bool {
	return strings.HasPrefix(c.Instruction, "Synthesize the following analyses")
}

func (c call) isBatch() bool {
	return strings.HasPrefix(c.Instruction, "Synthesize the following chunk analyses")
}

func (c call) isChunk() bool {
	return !c.isFinal() && !c.isBatch()
}

// fakeGen records every call and answers through respond.
type fakeGen struct {
	mu          sync.Mutex
	calls       []call
	inflight    int
	maxInflight int
	delay       func(call) time.Duration
	respond     func(call) (string, error)
}

func (f *fakeGen) Invoke(_ context.Context, systemPrompt, instruction, text string) (string, error) {
	c := call{System: systemPrompt, Instruction: instruction, Text: text}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.delay != nil {
		time.Sleep(f.delay(c))
	}
	if f.respond != nil {
		return f.respond(c)
	}
	switch {
	case c.isFinal():
		return "final synthesis", nil
	case c.isBatch():
		return "batch summary", nil
	}
	return "analysis: " + c.Text, nil
}

func (f *fakeGen) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeGen) filter(keep func(call) bool) []call {
	var out []call
	for _, c := range f.snapshot() {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// fixedSplitter ignores its input and yields n short chunks "part-NNN".
type fixedSplitter struct {
	n int
}

func (s fixedSplitter) Split(string) []models.Chunk {
	chunks := make([]models.Chunk, s.n)
	for i := range chunks {
		chunks[i] = models.Chunk{Index: i, Source: i, Text: fmt.Sprintf("part-%03d", i)}
	}
	return chunks
}

// halvingSplitter cuts text into two halves.
type halvingSplitter struct{}

func (halvingSplitter) Split(text string) []models.Chunk {
	if len(text) < 2 {
		return []models.Chunk{{Text: text}}
	}
	mid := len(text) / 2
	return []models.Chunk{
		{Index: 0, Source: 0, Text: text[:mid]},
		{Index: 1, Source: 1, Text: text[mid:]},
	}
}

// paragraphs builds size characters of numbered ~1000 character paragraphs.
func paragraphs(size int) string {
	filler := strings.Repeat("lorem ", 163)
	var b strings.Builder
	b.Grow(size + 1024)
	for i := 0; b.Len() < size; i++ {
		fmt.Fprintf(&b, "Paragraph %05d. %s\n\n", i, filler)
	}
	return b.String()[:size]
}

// labelPositions returns the offset of each "[<kind> N]\n" label, 1..n.
func labelPositions(text, kind string, n int) []int {
	pos := make([]int, n)
	for i := 1; i <= n; i++ {
		pos[i-1] = strings.Index(text, fmt.Sprintf("[%s %d]\n", kind, i))
	}
	return pos
}
