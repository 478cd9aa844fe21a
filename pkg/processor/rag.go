package processor

import (
	"context"
	"fmt"

	"github.com/xhad/distill/internal/models"
)

const extractionInstruction = `Extract and synthesize information relevant to the following query:

Query: %s

Focus on:
- Key facts and statistics
- Trends and patterns
- Important details
- Quantitative data

Provide a comprehensive synthesis with citations.`

// ExtractWithRAGFallback answers query from retrieved passages plus the full
// documents. Passages come first, each tagged with its source.
func (p *Processor) ExtractWithRAGFallback(ctx context.Context, documents []string, query string, passages []models.Passage) (string, error) {
	parts := make([]string, 0, len(passages)+len(documents))
	for _, ps := range passages {
		source := ps.Source
		if source == "" {
			source = "Unknown"
		}
		parts = append(parts, "[Source: "+source+"]\n"+ps.Text)
	}
	parts = append(parts, documents...)

	if len(parts) == 0 {
		return "", nil
	}

	return p.ProcessDocuments(ctx, parts, ExtractionInstruction(query), "")
}

// ExtractionInstruction is the instruction used by ExtractWithRAGFallback.
func ExtractionInstruction(query string) string {
	return fmt.Sprintf(extractionInstruction, query)
}
