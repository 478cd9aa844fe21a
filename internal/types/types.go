package types

import (
	"context"

	"github.com/xhad/distill/internal/models"
)

// Core interfaces

// Generator is the generative text capability. Implementations must return
// an error wrapping *llm.GenerationError on transport, quota or malformed
// response failures.
type Generator interface {
	Invoke(ctx context.Context, systemPrompt, instruction, text string) (string, error)
}

// Splitter divides text into ordered, bounded chunks.
type Splitter interface {
	Split(text string) []models.Chunk
}

// TokenEstimator approximates the token count of a text.
type TokenEstimator func(text string) int

// QueryEmbedder turns a query into a vector for passage search.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// PassageStore finds passages near an embedding.
type PassageStore interface {
	Query(ctx context.Context, embedding []float32, limit int) ([]models.Passage, error)
	Close()
}
