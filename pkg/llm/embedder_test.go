package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vectors [][]float32
	err     error
	got     []string
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.got = texts
	return f.vectors, f.err
}

func TestNewEmbedderWithConfig(t *testing.T) {
	emb, err := NewEmbedderWithConfig(EmbedderConfig{})
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text:latest", emb.config.Model)
	assert.Equal(t, "http://localhost:11434", emb.config.BaseURL)
}

func TestEmbedQuery(t *testing.T) {
	fake := &fakeEmbedder{vectors: [][]float32{{0.1, 0.2, 0.3}}}
	emb := &Embedder{embed: fake}

	vec, err := emb.EmbedQuery(context.Background(), "vacancy rates")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, []string{"vacancy rates"}, fake.got)
}

func TestEmbedQueryErrors(t *testing.T) {
	emb := &Embedder{embed: &fakeEmbedder{err: errors.New("boom")}}
	_, err := emb.EmbedQuery(context.Background(), "q")
	assert.Error(t, err)

	emb = &Embedder{embed: &fakeEmbedder{}}
	_, err = emb.EmbedQuery(context.Background(), "q")
	assert.Error(t, err)
}

func TestFlattenEmbeddings(t *testing.T) {
	assert.Equal(t, []float32{1, 2, 3}, FlattenEmbeddings([][]float32{{1}, {2, 3}}))
	assert.Nil(t, FlattenEmbeddings(nil))
}
