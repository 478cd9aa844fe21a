package processor

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xhad/distill/internal/models"
	"github.com/xhad/distill/pkg/llm"
)

// ErrProcessingFailed marks a chunk or batch whose worker panicked.
var ErrProcessingFailed = errors.New("processing failed")

// recursive decides per input whether to process directly, truncate or split
// and recurse. depth grows by one per nested split and never exceeds maxDepth.
func (p *Processor) recursive(ctx context.Context, log *zap.Logger, text, instruction, systemPrompt string, depth int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if p.estimate(text) <= p.config.SinglePassTokens {
		return p.singlePass(ctx, text, instruction, systemPrompt)
	}

	if depth >= p.maxDepth {
		limit := p.config.ChunkSize * truncateChunks
		log.Warn("max recursion depth reached, truncating",
			zap.Int("depth", depth),
			zap.Int("max_depth", p.maxDepth),
			zap.Int("keep_chars", limit))
		return p.singlePass(ctx, truncateRunes(text, limit)+TruncationMarker, instruction, systemPrompt)
	}

	chunks := p.splitter.Split(text)
	log.Info("split into chunks", zap.Int("depth", depth), zap.Int("chunks", len(chunks)))

	if len(chunks) > p.config.MaxChunks {
		sampled := sampleChunks(chunks, p.config.MaxChunks)
		log.Warn("too many chunks, sampling evenly",
			zap.Int("depth", depth),
			zap.Int("from", len(chunks)),
			zap.Int("to", len(sampled)))
		chunks = sampled
	}

	if len(chunks) == 1 {
		return p.singlePass(ctx, chunks[0].Text, instruction, systemPrompt)
	}

	results, err := p.executeParallel(ctx, log, "chunks", depth, chunks, func(ctx context.Context, c models.Chunk) (string, error) {
		if p.estimate(c.Text) > p.config.InnerTokens {
			return p.recursive(ctx, log, c.Text, instruction, systemPrompt, depth+1)
		}
		return p.singlePass(ctx, c.Text, instruction, systemPrompt)
	})
	if err != nil {
		return "", err
	}

	analyses := make([]string, len(results))
	for i, r := range results {
		analyses[i] = labelResult("Chunk", r)
		if r.Err != nil {
			log.Error("chunk processing failed",
				zap.Int("depth", depth),
				zap.Int("chunk", r.Index+1),
				zap.Error(r.Err))
		}
	}

	if len(analyses) > p.config.BatchThreshold {
		log.Info("too many chunk results, synthesizing in batches first",
			zap.Int("depth", depth),
			zap.Int("results", len(analyses)))
		analyses, err = p.synthesizeInBatches(ctx, log, analyses, instruction, systemPrompt, depth)
		if err != nil {
			return "", err
		}
	}

	log.Info("final synthesis", zap.Int("depth", depth), zap.Int("results", len(analyses)))
	return p.singlePass(ctx, strings.Join(analyses, ResultSeparator), synthesisInstruction(instruction), systemPrompt)
}

// sampleChunks keeps an evenly spaced, order preserving subset of at most max
// chunks. Survivors are re-indexed from zero; Source keeps the original index.
func sampleChunks(chunks []models.Chunk, max int) []models.Chunk {
	if len(chunks) <= max {
		return chunks
	}
	step := len(chunks) / max

	out := make([]models.Chunk, 0, max)
	for i := 0; i < len(chunks) && len(out) < max; i += step {
		c := chunks[i]
		c.Source = c.Index
		c.Index = len(out)
		out = append(out, c)
	}
	return out
}

// labelResult renders a result as "[<kind> N]\n<text>" or a failure placeholder.
func labelResult(kind string, r models.ChunkResult) string {
	label := "[" + kind + " " + strconv.Itoa(r.Index+1) + "]\n"
	switch {
	case r.Err == nil:
		return label + r.Text
	case llm.IsGenerationError(r.Err), errors.Is(r.Err, ErrProcessingFailed):
		return label + "[Processing failed]"
	default:
		return label + "[Error: " + r.Err.Error() + "]"
	}
}

func synthesisInstruction(instruction string) string {
	return "Synthesize the following analyses into a coherent response.\n\n" +
		"Original instruction: " + instruction + "\n\n" +
		"Please combine the information, removing redundancy and creating a unified analysis."
}

func batchInstruction(instruction string, batch int) string {
	return "Synthesize the following chunk analyses into a concise summary.\n\n" +
		"Original instruction: " + instruction + "\n\n" +
		"Chunk analyses (batch " + strconv.Itoa(batch) + ") follow.\n\n" +
		"Create a concise synthesis focusing on key information and removing redundancy."
}
