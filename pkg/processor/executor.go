package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xhad/distill/internal/models"
)

type chunkFunc func(ctx context.Context, c models.Chunk) (string, error)

// executeParallel runs fn on every chunk with at most Workers in flight and
// returns the results sorted by chunk index. Per-chunk failures are carried in
// ChunkResult.Err. The only error returned is ctx's, once it is done;
// dispatch stops at that point but running calls are left to finish.
func (p *Processor) executeParallel(ctx context.Context, log *zap.Logger, stage string, depth int, chunks []models.Chunk, fn chunkFunc) ([]models.ChunkResult, error) {
	total := len(chunks)
	results := make([]models.ChunkResult, 0, total)

	var (
		mu        sync.Mutex
		completed atomic.Int64
	)

	// A plain group: one failed chunk must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(p.config.Workers)

	for _, c := range chunks {
		if ctx.Err() != nil {
			break
		}
		c := c
		g.Go(func() error {
			r := runChunk(ctx, c, fn)

			mu.Lock()
			results = append(results, r)
			mu.Unlock()

			n := int(completed.Add(1))
			if n%5 == 0 || n == total {
				log.Info("processed "+stage,
					zap.Int("completed", n),
					zap.Int("total", total),
					zap.Int("depth", depth))
			}
			p.progress(ctx, ProgressEvent{Stage: stage, Depth: depth, Completed: n, Total: total})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Index < results[j].Index
	})
	return results, nil
}

func runChunk(ctx context.Context, c models.Chunk, fn chunkFunc) (r models.ChunkResult) {
	r.Index = c.Index
	defer func() {
		if v := recover(); v != nil {
			r.Text = ""
			r.Err = fmt.Errorf("%w: %v", ErrProcessingFailed, v)
		}
	}()
	r.Text, r.Err = fn(ctx, c)
	return r
}
