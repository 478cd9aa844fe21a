package store

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/distill/internal/models"
)

type VectorStoreConfig struct {
	ConnString  string
	TableName   string
	SearchLimit int
}

// VectorStore looks up passages in a pgvector table with columns
// (url TEXT, content TEXT, embedding vector).
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "documents"
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}
	if !tableName.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name %q", config.TableName)
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &VectorStore{
		config: config,
		pool:   pool,
	}, nil
}

// Query returns the passages closest to queryEmbedding by cosine distance.
func (vs *VectorStore) Query(ctx context.Context, queryEmbedding []float32, limit int) ([]models.Passage, error) {
	if limit <= 0 {
		limit = vs.config.SearchLimit
	}

	query := fmt.Sprintf(`
		SELECT url, content, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(queryEmbedding), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query passages: %w", err)
	}
	defer rows.Close()

	var passages []models.Passage
	for rows.Next() {
		var p models.Passage
		if err := rows.Scan(&p.Source, &p.Text, &p.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read passages: %w", err)
	}

	return passages, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}
