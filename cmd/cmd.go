package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xhad/distill/internal/models"
	cfgPkg "github.com/xhad/distill/pkg/config"
	"github.com/xhad/distill/pkg/llm"
	"github.com/xhad/distill/pkg/loader"
	"github.com/xhad/distill/pkg/processor"
	"github.com/xhad/distill/pkg/store"
	"github.com/xhad/distill/server"
)

// pipeline holds the components every subcommand needs.
type pipeline struct {
	cfg       *cfgPkg.Config
	log       *zap.Logger
	processor *processor.Processor
	loader    *loader.Loader
}

func newPipeline(cmd *cobra.Command, opts *options) (*pipeline, error) {
	cfg, err := loadSettings(cmd, opts)
	if err != nil {
		return nil, err
	}

	log, err := newLogger(opts.verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	engine, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Timeout:     cfg.LLM.Timeout,
		RateLimit:   cfg.LLM.RateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	return &pipeline{
		cfg:       cfg,
		log:       log,
		processor: processor.NewWithConfig(engine, processorConfig(cfg, log)),
		loader: loader.NewWithConfig(loader.LoaderConfig{
			RateLimit: cfg.Loader.RateLimit,
			Timeout:   cfg.Loader.Timeout,
			Logger:    log,
		}),
	}, nil
}

// load resolves sources into document texts, showing a spinner meanwhile.
func (p *pipeline) load(ctx context.Context, sources []string) ([]string, error) {
	if len(sources) == 0 {
		return nil, nil
	}

	spinner := getSpinner("Loading documents...")
	docs, err := p.loader.Load(ctx, sources...)
	_ = spinner.Finish()
	if err != nil {
		return nil, err
	}

	color.Green("\n✓ Loaded %d documents\n", len(docs))
	return models.Contents(docs), nil
}

// withProgress attaches a progress bar to ctx when the UI asks for one.
func (p *pipeline) withProgress(ctx context.Context) (context.Context, func()) {
	if !p.cfg.UI.Progress {
		return ctx, func() {}
	}
	bar := getProgressBar(-1, "Synthesizing...")
	return processor.WithProgress(ctx, progressReporter(bar)), func() {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
}

func newProcessCmd(opts *options) *cobra.Command {
	var instruction, systemPrompt string

	cmd := &cobra.Command{
		Use:   "process [sources...]",
		Short: "Apply an instruction to files or URLs",
		Long: `Apply an instruction to one or more documents and print the synthesized result.

Examples:
  # Summarize a report
  distill process --instruction "Summarize the key findings" report.txt

  # Combine a page and a local file
  distill process -i "Compare the two" https://example.com/a notes.md

  # Read from stdin
  cat big.log | distill process -i "List every error" -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline(cmd, opts)
			if err != nil {
				return err
			}
			defer p.log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			documents, err := p.load(ctx, args)
			if err != nil {
				return err
			}

			ctx, done := p.withProgress(ctx)
			result, err := p.processor.Process(ctx, models.ProcessingRequest{
				Documents:    documents,
				Instruction:  instruction,
				SystemPrompt: systemPrompt,
			})
			done()
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&instruction, "instruction", "i", "", "Instruction to apply to the documents")
	cmd.Flags().StringVarP(&systemPrompt, "system", "s", "", "System prompt (defaults to an analyst persona)")
	_ = cmd.MarkFlagRequired("instruction")

	return cmd
}

func newExtractCmd(opts *options) *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "extract [sources...]",
		Short: "Answer a query from stored passages and documents",
		Long: `Answer a query using passages retrieved from the vector store, followed by
any documents given as arguments. Without a database URL only the documents
are used.

Examples:
  distill extract --query "cap rate trends" q3-report.pdf.txt
  DATABASE_URL=postgres://localhost/kb distill extract -q "vacancy rates"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline(cmd, opts)
			if err != nil {
				return err
			}
			defer p.log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			documents, err := p.load(ctx, args)
			if err != nil {
				return err
			}

			var passages []models.Passage
			if retriever := p.retriever(ctx); retriever != nil {
				defer retriever.Close()
				spinner := getSpinner("Searching passages...")
				passages, err = retriever.Retrieve(ctx, query)
				_ = spinner.Finish()
				if err != nil {
					p.log.Warn("passage retrieval failed, using documents only", zap.Error(err))
					passages = nil
				}
			}

			if len(passages) == 0 && len(documents) == 0 {
				return errors.New("nothing to extract from: no passages found and no documents given")
			}

			ctx, done := p.withProgress(ctx)
			result, err := p.processor.ExtractWithRAGFallback(ctx, documents, query, passages)
			done()
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "Query to extract information for")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

// retriever connects to the vector store when a database is configured.
// A connection failure is logged and yields nil.
func (p *pipeline) retriever(ctx context.Context) *store.Retriever {
	if p.cfg.Database.URL == "" {
		return nil
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:   p.cfg.Embedder.Model,
		BaseURL: p.cfg.Embedder.BaseURL,
	})
	if err != nil {
		p.log.Warn("embedder unavailable", zap.Error(err))
		return nil
	}

	vs, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString:  p.cfg.Database.URL,
		TableName:   p.cfg.Database.TableName,
		SearchLimit: p.cfg.Database.SearchLimit,
	})
	if err != nil {
		p.log.Warn("vector store unavailable", zap.Error(err))
		return nil
	}

	return &store.Retriever{Embedder: embedder, Store: vs, Limit: p.cfg.Database.SearchLimit}
}

func newServeCmd(opts *options) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve synthesis requests over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline(cmd, opts)
			if err != nil {
				return err
			}
			defer p.log.Sync()

			if cmd.Flags().Changed("addr") {
				p.cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// clients never read the host's files outside FileRoot
			srvCfg := server.Config{
				Loader: loader.NewWithConfig(loader.LoaderConfig{
					RateLimit: p.cfg.Loader.RateLimit,
					Timeout:   p.cfg.Loader.Timeout,
					Logger:    p.log,
					URLOnly:   p.cfg.Server.FileRoot == "",
					FileRoot:  p.cfg.Server.FileRoot,
				}),
				Logger:         p.log,
				AllowedOrigins: p.cfg.Server.AllowedOrigins,
			}
			if r := p.retriever(ctx); r != nil {
				defer r.Close()
				srvCfg.Retriever = r
			}

			httpServer := &http.Server{
				Addr:              p.cfg.Server.Addr,
				Handler:           server.NewWSServer(p.processor, srvCfg).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				color.Cyan("Server starting on %s", p.cfg.Server.Addr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")
	return cmd
}
