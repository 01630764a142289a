package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings of the compliance assistant.
type Config struct {
	DocsDir  string
	HTTPAddr string

	ChunkSize    int
	ChunkOverlap int
	TopK         int

	Embedding EmbeddingConfig
	LLM       LLMConfig
	Log       LogConfig
}

// EmbeddingConfig selects and configures the embedding model.
type EmbeddingConfig struct {
	Provider          string // "openai" or "hash"
	APIKey            string
	BaseURL           string
	Model             string
	Dimension         int
	MaxTokens         int
	RequestsPerSecond float64
}

// LLMConfig configures the OpenAI-compatible chat endpoint used for answers.
type LLMConfig struct {
	Provider       string // display name used in error messages
	APIKey         string
	BaseURL        string
	Model          string
	Timeout        time.Duration
	NoContextReply string
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	EmbeddingProviderOpenAI = "openai"
	EmbeddingProviderHash   = "hash"
)

// Load reads envFilePath when it exists, then the environment.
func Load(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// a missing .env is fine, the environment alone is enough
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	openAIKey := getEnv("OPENAI_API_KEY", "")
	provider := EmbeddingProviderHash
	if openAIKey != "" {
		provider = EmbeddingProviderOpenAI
	}
	provider = getEnv("EMBEDDING_PROVIDER", provider)

	defaultDim := 0
	if provider == EmbeddingProviderHash {
		defaultDim = 384
	}

	cfg := &Config{
		DocsDir:      getEnv("COMPLIANCE_DOCS_DIR", "Compliance_files"),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8000"),
		ChunkSize:    getEnvAsInt("CHUNK_SIZE", 500),
		ChunkOverlap: getEnvAsInt("CHUNK_OVERLAP", 50),
		TopK:         getEnvAsInt("RETRIEVAL_TOP_K", 3),
		Embedding: EmbeddingConfig{
			Provider:          provider,
			APIKey:            openAIKey,
			BaseURL:           getEnv("OPENAI_BASE_URL", ""),
			Model:             getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension:         getEnvAsInt("EMBEDDING_DIMENSION", defaultDim),
			MaxTokens:         getEnvAsInt("EMBEDDING_MAX_TOKENS", 8191),
			RequestsPerSecond: getEnvAsFloat("EMBEDDING_REQUESTS_PER_SECOND", 5),
		},
		LLM: LLMConfig{
			Provider:       getEnv("LLM_PROVIDER", "Groq"),
			APIKey:         getEnv("GROQ_API_KEY", ""),
			BaseURL:        getEnv("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
			Model:          getEnv("LLM_MODEL", "llama3-8b-8192"),
			Timeout:        getEnvAsDuration("LLM_TIMEOUT", 30*time.Second),
			NoContextReply: getEnv("NO_CONTEXT_REPLY", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Validate reports settings the engine cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.DocsDir == "" {
		errs = append(errs, errors.New("COMPLIANCE_DOCS_DIR must not be empty"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap))
	}
	if c.TopK <= 0 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", c.TopK))
	}
	switch c.Embedding.Provider {
	case EmbeddingProviderHash:
	case EmbeddingProviderOpenAI:
		if c.Embedding.APIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai embedding provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.Embedding.Provider))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("LLM_TIMEOUT must be positive, got %s", c.LLM.Timeout))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
