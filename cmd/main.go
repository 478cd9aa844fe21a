package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	cfgPkg "github.com/xhad/distill/pkg/config"
	"github.com/xhad/distill/pkg/processor"
)

var version = "dev"

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	verbose    bool

	provider  string
	model     string
	baseURL   string
	chunkSize int
	maxDepth  int
	workers   int
	maxChunks int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "distill",
		Short: "Synthesize large document sets with an LLM",
		Long: `distill answers an instruction over documents of any size. Inputs that fit
one model call are sent directly; larger inputs are split, analyzed in
parallel and merged back into a single response.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to config file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&opts.provider, "provider", "", "LLM provider (ollama or openai)")
	flags.StringVar(&opts.model, "model", "", "LLM model to use")
	flags.StringVar(&opts.baseURL, "base-url", "", "LLM server URL")
	flags.IntVar(&opts.chunkSize, "chunk-size", 0, "Size of text chunks in characters")
	flags.IntVar(&opts.maxDepth, "max-depth", 0, "Maximum recursion depth")
	flags.IntVar(&opts.workers, "workers", 0, "Parallel generation calls")
	flags.IntVar(&opts.maxChunks, "max-chunks", 0, "Maximum chunks per split")

	root.AddCommand(newProcessCmd(opts))
	root.AddCommand(newExtractCmd(opts))
	root.AddCommand(newServeCmd(opts))

	return root
}

// loadSettings reads the config file and applies any flags that were set.
func loadSettings(cmd *cobra.Command, opts *options) (*cfgPkg.Config, error) {
	cfg, err := cfgPkg.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("provider") {
		cfg.LLM.Provider = opts.provider
	}
	if flags.Changed("model") {
		cfg.LLM.Model = opts.model
	}
	if flags.Changed("base-url") {
		cfg.LLM.BaseURL = opts.baseURL
	}
	if flags.Changed("chunk-size") {
		cfg.Processor.ChunkSize = opts.chunkSize
	}
	if flags.Changed("max-depth") {
		depth := opts.maxDepth
		cfg.Processor.MaxDepth = &depth
	}
	if flags.Changed("workers") {
		cfg.Processor.Workers = opts.workers
	}
	if flags.Changed("max-chunks") {
		cfg.Processor.MaxChunks = opts.maxChunks
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", errs[0])
	}
	return cfg, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zcfg.Build()
}

func processorConfig(cfg *cfgPkg.Config, log *zap.Logger) processor.Config {
	return processor.Config{
		ChunkSize:        cfg.Processor.ChunkSize,
		ChunkOverlap:     cfg.Processor.ChunkOverlap,
		MaxDepth:         cfg.Processor.MaxDepth,
		SinglePassTokens: cfg.Processor.SinglePassTokens,
		InnerTokens:      cfg.Processor.InnerTokens,
		MaxChunks:        cfg.Processor.MaxChunks,
		Workers:          cfg.Processor.Workers,
		BatchThreshold:   cfg.Processor.BatchThreshold,
		BatchSize:        cfg.Processor.BatchSize,
		Logger:           log,
	}
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("calls"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// progressReporter drives a bar from top-level processor events. Nested
// fan-outs report their own totals and are left out of the bar.
func progressReporter(bar *progressbar.ProgressBar) func(processor.ProgressEvent) {
	return func(ev processor.ProgressEvent) {
		if ev.Depth != 0 {
			return
		}
		if bar.GetMax() != ev.Total {
			bar.ChangeMax(ev.Total)
		}
		bar.Describe(color.BlueString("Synthesizing %s...", ev.Stage))
		_ = bar.Set(ev.Completed)
	}
}
