// Package processor synthesizes one result from documents that are too large
// for a single generative call, by splitting, fanning out and merging.
package processor

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xhad/distill/internal/models"
	"github.com/xhad/distill/internal/types"
)

const (
	DefaultChunkSize        = 20000
	DefaultChunkOverlap     = 500
	DefaultMaxDepth         = 2
	DefaultSinglePassTokens = 100000
	DefaultInnerTokens      = 20000
	DefaultMaxChunks        = 50
	DefaultWorkers          = 5
	DefaultBatchThreshold   = 20
	DefaultBatchSize        = 10

	// truncation keeps this many chunks worth of text once depth is exhausted
	truncateChunks = 10
)

const (
	DefaultSystemPrompt = "You are an expert analyst processing documents."
	DocumentSeparator   = "\n\n--- Document Separator ---\n\n"
	ResultSeparator     = "\n\n---\n\n"
	TruncationMarker    = "\n\n[Document truncated due to recursion limit...]"
)

// ProgressEvent is emitted each time a chunk or batch finishes.
type ProgressEvent struct {
	Stage     string // "chunks" or "batches"
	Depth     int
	Completed int
	Total     int
}

type Config struct {
	ChunkSize int
	// ChunkOverlap of zero selects DefaultChunkOverlap; negative means none.
	ChunkOverlap int
	// MaxDepth nil selects DefaultMaxDepth. Zero disables splitting so
	// oversized input is truncated immediately; negative values act as zero.
	MaxDepth         *int
	SinglePassTokens int
	InnerTokens      int
	MaxChunks        int
	Workers          int
	BatchThreshold   int
	BatchSize        int

	Estimator types.TokenEstimator
	Splitter  types.Splitter
	Logger    *zap.Logger
	// OnProgress may be called from several goroutines at once.
	OnProgress func(ProgressEvent)
}

// DefaultConfig returns the configuration used for zero-valued fields.
func DefaultConfig() Config {
	return Config{
		ChunkSize:        DefaultChunkSize,
		ChunkOverlap:     DefaultChunkOverlap,
		MaxDepth:         Depth(DefaultMaxDepth),
		SinglePassTokens: DefaultSinglePassTokens,
		InnerTokens:      DefaultInnerTokens,
		MaxChunks:        DefaultMaxChunks,
		Workers:          DefaultWorkers,
		BatchThreshold:   DefaultBatchThreshold,
		BatchSize:        DefaultBatchSize,
	}
}

// Depth returns a MaxDepth value for Config.
func Depth(n int) *int {
	return &n
}

// Processor runs the recursive decomposition. It holds no per-request state
// and is safe for concurrent use.
type Processor struct {
	config   Config
	gen      types.Generator
	splitter types.Splitter
	estimate types.TokenEstimator
	log      *zap.Logger
	maxDepth int
}

func NewWithConfig(gen types.Generator, config Config) *Processor {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = DefaultChunkOverlap
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = 0
	}
	if config.MaxDepth == nil {
		config.MaxDepth = Depth(DefaultMaxDepth)
	} else if *config.MaxDepth < 0 {
		config.MaxDepth = Depth(0)
	} else {
		config.MaxDepth = Depth(*config.MaxDepth)
	}
	if config.SinglePassTokens <= 0 {
		config.SinglePassTokens = DefaultSinglePassTokens
	}
	if config.InnerTokens <= 0 {
		config.InnerTokens = DefaultInnerTokens
	}
	if config.MaxChunks <= 0 {
		config.MaxChunks = DefaultMaxChunks
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.BatchThreshold <= 0 {
		config.BatchThreshold = DefaultBatchThreshold
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}

	p := &Processor{
		config:   config,
		gen:      gen,
		splitter: config.Splitter,
		estimate: config.Estimator,
		log:      config.Logger,
		maxDepth: *config.MaxDepth,
	}
	if p.splitter == nil {
		p.splitter = NewChunker(config.ChunkSize, config.ChunkOverlap)
	}
	if p.estimate == nil {
		p.estimate = EstimateTokens
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p
}

// Config returns the effective configuration.
func (p *Processor) Config() Config {
	return p.config
}

// Process runs ProcessDocuments for a request.
func (p *Processor) Process(ctx context.Context, req models.ProcessingRequest) (string, error) {
	return p.ProcessDocuments(ctx, req.Documents, req.Instruction, req.SystemPrompt)
}

// ProcessDocuments synthesizes one result from all documents. Empty input
// returns "" without calling the generator. Only a failure of the final (or
// only) generative call is returned as an error.
func (p *Processor) ProcessDocuments(ctx context.Context, documents []string, instruction, systemPrompt string) (string, error) {
	if len(documents) == 0 {
		return "", nil
	}

	log := p.log.With(zap.String("request_id", uuid.NewString()))

	combined := strings.Join(documents, DocumentSeparator)
	estimated := p.estimate(combined)

	if estimated <= p.config.SinglePassTokens {
		log.Info("document within limits, processing directly",
			zap.Int("estimated_tokens", estimated),
			zap.Int("documents", len(documents)))
		return p.singlePass(ctx, combined, instruction, systemPrompt)
	}

	log.Info("document exceeds limits, using recursive processing",
		zap.Int("estimated_tokens", estimated),
		zap.Int("ceiling", p.config.SinglePassTokens),
		zap.Int("documents", len(documents)))
	return p.recursive(ctx, log, combined, instruction, systemPrompt, 0)
}

// singlePass is the only place the generator is called.
func (p *Processor) singlePass(ctx context.Context, text, instruction, systemPrompt string) (string, error) {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return p.gen.Invoke(ctx, systemPrompt, instruction, text)
}

type progressKey struct{}

// WithProgress attaches a per-request progress callback to ctx. It is called
// in addition to Config.OnProgress and may run on several goroutines at once.
func WithProgress(ctx context.Context, fn func(ProgressEvent)) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func (p *Processor) progress(ctx context.Context, ev ProgressEvent) {
	if p.config.OnProgress != nil {
		p.config.OnProgress(ev)
	}
	if fn, ok := ctx.Value(progressKey{}).(func(ProgressEvent)); ok && fn != nil {
		fn(ev)
	}
}
