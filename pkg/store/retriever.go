package store

import (
	"context"
	"fmt"

	"github.com/xhad/distill/internal/models"
	"github.com/xhad/distill/internal/types"
)

// Retriever embeds a query and looks up the nearest passages.
type Retriever struct {
	Embedder types.QueryEmbedder
	Store    types.PassageStore
	Limit    int
}

func (r *Retriever) Retrieve(ctx context.Context, query string) ([]models.Passage, error) {
	embedding, err := r.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	passages, err := r.Store.Query(ctx, embedding, r.Limit)
	if err != nil {
		return nil, fmt.Errorf("passage search: %w", err)
	}
	return passages, nil
}

func (r *Retriever) Close() {
	if r.Store != nil {
		r.Store.Close()
	}
}
