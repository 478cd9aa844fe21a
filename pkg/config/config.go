package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		Provider    string        `yaml:"provider"`
		BaseURL     string        `yaml:"base_url"`
		Model       string        `yaml:"model"`
		APIKey      string        `yaml:"api_key"`
		MaxTokens   int           `yaml:"max_tokens"`
		Temperature *float64      `yaml:"temperature"`
		Timeout     time.Duration `yaml:"timeout"`
		RateLimit   float64       `yaml:"rate_limit"`
	} `yaml:"llm"`

	Processor struct {
		ChunkSize        int `yaml:"chunk_size"`
		ChunkOverlap     int `yaml:"chunk_overlap"`
		MaxDepth         *int `yaml:"max_depth"`
		SinglePassTokens int `yaml:"single_pass_tokens"`
		InnerTokens      int `yaml:"inner_tokens"`
		MaxChunks        int `yaml:"max_chunks"`
		Workers          int `yaml:"workers"`
		BatchThreshold   int `yaml:"batch_threshold"`
		BatchSize        int `yaml:"batch_size"`
	} `yaml:"processor"`

	Database struct {
		URL         string `yaml:"url"`
		TableName   string `yaml:"table_name"`
		SearchLimit int    `yaml:"search_limit"`
	} `yaml:"database"`

	Embedder struct {
		Model   string `yaml:"model"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"embedder"`

	Loader struct {
		RateLimit float64       `yaml:"rate_limit"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"loader"`

	Server struct {
		Addr string `yaml:"addr"`
		// AllowedOrigins lists browser origins besides the server's own that
		// may open /ws. "*" allows any.
		AllowedOrigins []string `yaml:"allowed_origins"`
		// FileRoot is the only directory clients may read files from. When
		// empty the server loads URLs only.
		FileRoot string `yaml:"file_root"`
	} `yaml:"server"`

	UI struct {
		Progress bool `yaml:"progress"`
	} `yaml:"ui"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"distill.yaml",
			"distill.yml",
			filepath.Join(os.Getenv("HOME"), ".config/distill/config.yaml"),
			"/etc/distill/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := &Config{}
	config.UI.Progress = true
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(config)
	applyDefaults(config)

	return config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	config.UI.Progress = true
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == "openai" {
			config.LLM.Model = "gpt-4o"
		} else {
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 4096
	}
	if config.LLM.Temperature == nil {
		temperature := 0.3
		config.LLM.Temperature = &temperature
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 5 * time.Minute
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 20000
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 500
	}
	if config.Processor.MaxDepth == nil {
		depth := 2
		config.Processor.MaxDepth = &depth
	}
	if config.Processor.SinglePassTokens == 0 {
		config.Processor.SinglePassTokens = 100000
	}
	if config.Processor.InnerTokens == 0 {
		config.Processor.InnerTokens = 20000
	}
	if config.Processor.MaxChunks == 0 {
		config.Processor.MaxChunks = 50
	}
	if config.Processor.Workers == 0 {
		config.Processor.Workers = 5
	}
	if config.Processor.BatchThreshold == 0 {
		config.Processor.BatchThreshold = 20
	}
	if config.Processor.BatchSize == 0 {
		config.Processor.BatchSize = 10
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "documents"
	}
	if config.Database.SearchLimit == 0 {
		config.Database.SearchLimit = 5
	}

	if config.Embedder.Model == "" {
		config.Embedder.Model = "nomic-embed-text:latest"
	}
	if config.Embedder.BaseURL == "" {
		config.Embedder.BaseURL = "http://localhost:11434"
	}

	if config.Loader.RateLimit == 0 {
		config.Loader.RateLimit = 2.0
	}
	if config.Loader.Timeout == 0 {
		config.Loader.Timeout = 30 * time.Second
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

func mergeWithEnv(config *Config) {
	if provider := os.Getenv("DISTILL_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if model := os.Getenv("DISTILL_MODEL"); model != "" {
		config.LLM.Model = model
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
		config.Embedder.BaseURL = baseURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
}
