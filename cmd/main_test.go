package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/distill/pkg/processor"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	for _, key := range []string{"DISTILL_PROVIDER", "DISTILL_MODEL", "OLLAMA_BASE_URL", "OPENAI_API_KEY", "DATABASE_URL"} {
		t.Setenv(key, "")
	}
	path := filepath.Join(t.TempDir(), "distill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func probeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "probe"}
	cmd.Flags().StringVar(&opts.model, "model", "", "")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "")
	cmd.Flags().IntVar(&opts.maxDepth, "max-depth", 0, "")
	return cmd
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"process", "extract", "serve"}, names)

	for _, flag := range []string{"config", "verbose", "model", "provider", "chunk-size", "max-depth", "workers", "max-chunks"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestLoadSettingsFlagsOverrideFile(t *testing.T) {
	opts := &options{configPath: writeConfig(t, "llm:\n  model: mistral\nprocessor:\n  workers: 2\n")}
	cmd := probeCmd(opts)
	require.NoError(t, cmd.Flags().Parse([]string{"--model", "llama3", "--chunk-size", "4000"}))

	cfg, err := loadSettings(cmd, opts)
	require.NoError(t, err)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, 4000, cfg.Processor.ChunkSize)
	assert.Equal(t, 2, cfg.Processor.Workers, "unset flags keep file values")
}

func TestLoadSettingsRejectsInvalidFlags(t *testing.T) {
	opts := &options{configPath: writeConfig(t, "llm:\n  model: mistral\n")}
	cmd := probeCmd(opts)
	require.NoError(t, cmd.Flags().Parse([]string{"--workers", "-1"}))

	_, err := loadSettings(cmd, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "processor.workers")
}

func TestProcessorConfigFromSettings(t *testing.T) {
	opts := &options{configPath: writeConfig(t, "processor:\n  max_chunks: 7\n  batch_size: 3\n")}
	cfg, err := loadSettings(probeCmd(opts), opts)
	require.NoError(t, err)

	pc := processor.NewWithConfig(nil, processorConfig(cfg, nil)).Config()
	assert.Equal(t, 7, pc.MaxChunks)
	assert.Equal(t, 3, pc.BatchSize)
	assert.Equal(t, processor.DefaultWorkers, pc.Workers)
}

func TestMaxDepthZeroIsHonoured(t *testing.T) {
	tests := []struct {
		name string
		file string
		args []string
	}{
		{"from file", "processor:\n  max_depth: 0\n", nil},
		{"from flag", "processor:\n  max_depth: 3\n", []string{"--max-depth", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := &options{configPath: writeConfig(t, tt.file)}
			cmd := probeCmd(opts)
			require.NoError(t, cmd.Flags().Parse(tt.args))

			cfg, err := loadSettings(cmd, opts)
			require.NoError(t, err)

			pc := processor.NewWithConfig(nil, processorConfig(cfg, nil)).Config()
			require.NotNil(t, pc.MaxDepth)
			assert.Equal(t, 0, *pc.MaxDepth)
		})
	}
}

func TestNegativeMaxDepthIsRejected(t *testing.T) {
	opts := &options{configPath: writeConfig(t, "llm:\n  model: mistral\n")}
	cmd := probeCmd(opts)
	require.NoError(t, cmd.Flags().Parse([]string{"--max-depth", "-1"}))

	_, err := loadSettings(cmd, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "processor.max_depth")
}

func TestProgressReporterFollowsTopLevel(t *testing.T) {
	bar := progressbar.NewOptions(-1, progressbar.OptionSetWriter(io.Discard))
	report := progressReporter(bar)

	report(processor.ProgressEvent{Stage: "chunks", Depth: 0, Completed: 1, Total: 12})
	assert.Equal(t, 12, bar.GetMax())

	report(processor.ProgressEvent{Stage: "chunks", Depth: 1, Completed: 1, Total: 3})
	assert.Equal(t, 12, bar.GetMax())

	report(processor.ProgressEvent{Stage: "batches", Depth: 0, Completed: 1, Total: 2})
	assert.Equal(t, 2, bar.GetMax())
}
