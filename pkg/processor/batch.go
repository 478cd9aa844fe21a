package processor

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xhad/distill/internal/models"
)

// makeBatches groups results into contiguous batches of at most size.
func makeBatches(results []string, size int) []models.SynthesisBatch {
	var batches []models.SynthesisBatch
	for start := 0; start < len(results); start += size {
		end := start + size
		if end > len(results) {
			end = len(results)
		}
		batches = append(batches, models.SynthesisBatch{
			Number: len(batches) + 1,
			Texts:  results[start:end],
		})
	}
	return batches
}

// synthesizeInBatches compresses results batch by batch, in parallel, and
// returns the labeled batch summaries in order.
func (p *Processor) synthesizeInBatches(ctx context.Context, log *zap.Logger, results []string, instruction, systemPrompt string, depth int) ([]string, error) {
	batches := makeBatches(results, p.config.BatchSize)

	units := make([]models.Chunk, len(batches))
	for i, b := range batches {
		units[i] = models.Chunk{
			Index:  i,
			Source: i,
			Text:   strings.Join(b.Texts, ResultSeparator),
		}
	}

	out, err := p.executeParallel(ctx, log, "batches", depth, units, func(ctx context.Context, c models.Chunk) (string, error) {
		batch := batches[c.Index]
		summary, err := p.singlePass(ctx, c.Text, batchInstruction(instruction, batch.Number), systemPrompt)
		if err == nil {
			log.Info("synthesized batch",
				zap.Int("batch", batch.Number),
				zap.Int("chunks", len(batch.Texts)))
		}
		return summary, err
	})
	if err != nil {
		return nil, err
	}

	summaries := make([]string, len(out))
	for i, r := range out {
		summaries[i] = labelResult("Batch", r)
		if r.Err != nil {
			log.Error("batch synthesis failed", zap.Int("batch", r.Index+1), zap.Error(r.Err))
		}
	}
	return summaries, nil
}
