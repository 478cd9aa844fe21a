package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// DefaultTemperature is used when ChatConfig.Temperature is nil.
const DefaultTemperature = 0.3

// Temperature returns a ChatConfig.Temperature value.
func Temperature(t float64) *float64 {
	return &t
}

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string
	Model       string
	Temperature *float64 // nil selects DefaultTemperature
	MaxTokens   int
	BaseURL     string // Ollama server URL or OpenAI compatible endpoint
	APIKey      string
	Timeout     time.Duration // per call, 0 disables
	RateLimit   float64       // requests per second, 0 disables
}

// Engine is the generative call adapter. It sends a system directive and a
// single human message built from the instruction and text to an LLM.
type Engine struct {
	config  ChatConfig
	llm     llms.Model
	limiter *rate.Limiter
}

// NewWithConfig creates an Engine backed by the configured provider.
func NewWithConfig(config ChatConfig) (*Engine, error) {
	config, err := normalize(config)
	if err != nil {
		return nil, err
	}

	var model llms.Model
	switch config.Provider {
	case ProviderOllama:
		model, err = ollama.New(ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL))
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(config.Model),
			openai.WithToken(config.APIKey),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return New(model, config)
}

// New wraps an existing langchaingo model.
func New(model llms.Model, config ChatConfig) (*Engine, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	config, err := normalize(config)
	if err != nil {
		return nil, err
	}

	e := &Engine{config: config, llm: model}
	if config.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return e, nil
}

func normalize(config ChatConfig) (ChatConfig, error) {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.Model == "" {
		switch config.Provider {
		case ProviderOpenAI:
			config.Model = "gpt-4o"
		default:
			config.Model = "mistral"
		}
	}
	if config.Temperature == nil {
		config.Temperature = Temperature(DefaultTemperature)
	} else if t := *config.Temperature; t < 0 || t > 2 {
		return config, fmt.Errorf("temperature must be between 0 and 2")
	} else {
		config.Temperature = Temperature(t)
	}
	if config.MaxTokens < 0 {
		return config, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	if config.RateLimit < 0 {
		return config, fmt.Errorf("rate limit cannot be negative")
	}
	if config.BaseURL == "" && config.Provider == ProviderOllama {
		config.BaseURL = "http://localhost:11434"
	}
	return config, nil
}

// HumanPrompt lays out the instruction and text as one human message.
// Both are inserted verbatim.
func HumanPrompt(instruction, text string) string {
	var b strings.Builder
	b.Grow(len(instruction) + len(text) + 128)
	b.WriteString(instruction)
	b.WriteString("\n\nDocuments:\n")
	b.WriteString(text)
	b.WriteString("\n\nPlease analyze and synthesize the information according to the instruction above.")
	return b.String()
}

// Invoke runs one generative call. Failures are returned as *GenerationError.
func (e *Engine) Invoke(ctx context.Context, systemPrompt, instruction, text string) (string, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return "", newGenerationError("invoke", err)
		}
	}
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	content := make([]llms.MessageContent, 0, 2)
	if systemPrompt != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, HumanPrompt(instruction, text)))

	response, err := e.llm.GenerateContent(ctx, content,
		llms.WithTemperature(*e.config.Temperature),
		llms.WithMaxTokens(e.config.MaxTokens),
	)
	if err != nil {
		return "", newGenerationError("invoke", err)
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", newGenerationError("invoke", ErrEmptyResponse)
	}

	return response.Choices[0].Content, nil
}

// Model returns the configured model name.
func (e *Engine) Model() string {
	return e.config.Model
}
