package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.BaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "Ollama base URL is required",
			})
		}
	case "openai":
		if c.LLM.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.api_key",
				Message: "api_key is required for the openai provider",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider: %q", c.LLM.Provider),
		})
	}

	if c.LLM.BaseURL != "" {
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "invalid LLM base URL",
			})
		}
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 128000 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 128000",
		})
	}

	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.timeout",
			Message: "timeout cannot be negative",
		})
	}

	if c.LLM.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.rate_limit",
			Message: "rate_limit cannot be negative",
		})
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	if d := c.Processor.MaxDepth; d != nil && *d < 0 {
		errors = append(errors, ValidationError{
			Field:   "processor.max_depth",
			Message: "max_depth cannot be negative",
		})
	}

	positive := []struct {
		field string
		value int
	}{
		{"processor.single_pass_tokens", c.Processor.SinglePassTokens},
		{"processor.inner_tokens", c.Processor.InnerTokens},
		{"processor.max_chunks", c.Processor.MaxChunks},
		{"processor.workers", c.Processor.Workers},
		{"processor.batch_threshold", c.Processor.BatchThreshold},
		{"processor.batch_size", c.Processor.BatchSize},
	}
	for _, p := range positive {
		if p.value < 1 {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Message: "must be positive",
			})
		}
	}

	// Validate Database config
	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.SearchLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.search_limit",
			Message: "search_limit must be positive",
		})
	}

	if c.Loader.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "loader.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	return errors
}
