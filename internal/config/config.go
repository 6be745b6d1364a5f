// Package config loads configuration from environment variables and .env files.
package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// RequiredKeys lists the environment variables the service refuses to start without.
var RequiredKeys = []string{
	"LLM_PRIMARY_URL",
	"LLM_PRIMARY_MODEL",
	"EMBEDDING_URL",
	"EMBEDDING_MODEL",
	"RERANKER_URL",
	"RERANKER_MODEL",
}

// Config holds all configuration for the RAG service
type Config struct {
	// Server
	HTTPPort       int      `env:"HTTP_PORT" envDefault:"8000"`
	Environment    string   `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	APIKey         string   `env:"API_KEY"`
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"20"`

	// Generation (OpenAI-compatible)
	LLMURL         string        `env:"LLM_PRIMARY_URL,required,notEmpty"`
	LLMModel       string        `env:"LLM_PRIMARY_MODEL,required,notEmpty"`
	LLMAPIKey      string        `env:"LLM_API_KEY" envDefault:"dummy"`
	LLMContext     int           `env:"LLM_PRIMARY_CONTEXT" envDefault:"65536"`
	LLMTimeout     time.Duration `env:"LLM_TIMEOUT" envDefault:"120s"`
	LLMTemperature float32       `env:"LLM_TEMPERATURE" envDefault:"0.1"`
	LLMMaxTokens   int           `env:"LLM_MAX_TOKENS" envDefault:"1024"`

	// Embeddings (OpenAI-compatible)
	EmbeddingURL         string `env:"EMBEDDING_URL,required,notEmpty"`
	EmbeddingModel       string `env:"EMBEDDING_MODEL,required,notEmpty"`
	EmbeddingAPIKey      string `env:"EMBEDDING_API_KEY" envDefault:"dummy"`
	EmbeddingBatchSize   int    `env:"EMBEDDING_BATCH_SIZE" envDefault:"32"`
	EmbeddingConcurrency int    `env:"EMBEDDING_CONCURRENCY" envDefault:"4"`
	EmbeddingCacheSize   int    `env:"EMBEDDING_CACHE_SIZE" envDefault:"1024"`

	// Reranker
	RerankerURL            string        `env:"RERANKER_URL,required,notEmpty"`
	RerankerModel          string        `env:"RERANKER_MODEL,required,notEmpty"`
	RerankerTimeout        time.Duration `env:"RERANKER_TIMEOUT" envDefault:"30s"`
	RerankerBreakerEnabled bool          `env:"RERANKER_BREAKER_ENABLED" envDefault:"true"`
	RerankerBreakerTimeout time.Duration `env:"RERANKER_BREAKER_TIMEOUT" envDefault:"30s"`

	// Qdrant (gRPC)
	QdrantHost       string        `env:"QDRANT_HOST" envDefault:"qdrant-service"`
	QdrantPort       int           `env:"QDRANT_PORT" envDefault:"6334"`
	QdrantAPIKey     string        `env:"QDRANT_API_KEY"`
	QdrantUseTLS     bool          `env:"QDRANT_USE_TLS" envDefault:"false"`
	RetrievalTimeout time.Duration `env:"RETRIEVAL_TIMEOUT" envDefault:"60s"`

	// Ingestion. Chunk sizes are word counts.
	ChunkSize      int      `env:"CHUNK_SIZE" envDefault:"256"`
	ChunkMaxSize   int      `env:"CHUNK_MAX_SIZE" envDefault:"384"`
	ChunkOverlap   int      `env:"CHUNK_OVERLAP" envDefault:"32"`
	ChunkMethod    string   `env:"CHUNK_METHOD" envDefault:"sentence"`
	IngestPatterns []string `env:"INGEST_PATTERNS" envDefault:"**/*.txt,**/*.md,**/*.markdown" envSeparator:","`

	// Retrieval and ranking
	TopK              int     `env:"RAG_TOP_K" envDefault:"20"`
	MaxTopK           int     `env:"MAX_TOP_K" envDefault:"100"`
	RerankTopN        int     `env:"RERANK_TOP_N" envDefault:"5"`
	DefaultCollection string  `env:"DEFAULT_COLLECTION" envDefault:"documents"`
	PreviewLength     int     `env:"PREVIEW_LENGTH" envDefault:"500"`
	SourceMinScore    float64 `env:"SOURCE_MIN_SCORE" envDefault:"0"`
	DedupThreshold    float64 `env:"DEDUP_THRESHOLD" envDefault:"0"`
}

// Load loads configuration from .env file (if present) and environment variables.
// A missing required key or an invalid value is returned as an error; callers
// treat it as fatal.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	positive := map[string]int{
		"RAG_TOP_K":             c.TopK,
		"RERANK_TOP_N":          c.RerankTopN,
		"PREVIEW_LENGTH":        c.PreviewLength,
		"CHUNK_SIZE":            c.ChunkSize,
		"CHUNK_MAX_SIZE":        c.ChunkMaxSize,
		"MAX_TOP_K":             c.MaxTopK,
		"EMBEDDING_BATCH_SIZE":  c.EmbeddingBatchSize,
		"EMBEDDING_CONCURRENCY": c.EmbeddingConcurrency,
		"HTTP_PORT":             c.HTTPPort,
		"QDRANT_PORT":           c.QdrantPort,
	}
	for _, key := range slices.Sorted(maps.Keys(positive)) {
		if positive[key] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, positive[key]))
		}
	}

	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP (%d) must be in [0, CHUNK_SIZE)", c.ChunkOverlap))
	}
	if c.ChunkMaxSize < c.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_MAX_SIZE (%d) must not be below CHUNK_SIZE (%d)", c.ChunkMaxSize, c.ChunkSize))
	}
	if c.TopK > c.MaxTopK {
		errs = append(errs, fmt.Errorf("RAG_TOP_K (%d) must not exceed MAX_TOP_K (%d)", c.TopK, c.MaxTopK))
	}
	if c.RerankTopN > c.MaxTopK {
		errs = append(errs, fmt.Errorf("RERANK_TOP_N (%d) must not exceed MAX_TOP_K (%d)", c.RerankTopN, c.MaxTopK))
	}

	timeouts := map[string]time.Duration{
		"LLM_TIMEOUT":       c.LLMTimeout,
		"RERANKER_TIMEOUT":  c.RerankerTimeout,
		"RETRIEVAL_TIMEOUT": c.RetrievalTimeout,
	}
	for _, key := range slices.Sorted(maps.Keys(timeouts)) {
		if timeouts[key] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, timeouts[key]))
		}
	}

	if c.DedupThreshold < 0 || c.DedupThreshold > 1 {
		errs = append(errs, fmt.Errorf("DEDUP_THRESHOLD must be within [0, 1], got %g", c.DedupThreshold))
	}
	if strings.TrimSpace(c.DefaultCollection) == "" {
		errs = append(errs, errors.New("DEFAULT_COLLECTION must not be empty"))
	}

	return errors.Join(errs...)
}

// QdrantAddr returns the host:port of the Qdrant gRPC endpoint.
func (c *Config) QdrantAddr() string {
	return fmt.Sprintf("%s:%d", c.QdrantHost, c.QdrantPort)
}
