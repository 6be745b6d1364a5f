package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knoguchi/rerank-rag/internal/config"
	"github.com/knoguchi/rerank-rag/internal/embedder"
	"github.com/knoguchi/rerank-rag/internal/httpclient"
	"github.com/knoguchi/rerank-rag/internal/ingestion"
	"github.com/knoguchi/rerank-rag/internal/llm"
	"github.com/knoguchi/rerank-rag/internal/pipeline"
	"github.com/knoguchi/rerank-rag/internal/reranker"
	"github.com/knoguchi/rerank-rag/internal/retriever"
	"github.com/knoguchi/rerank-rag/internal/server"
	"github.com/knoguchi/rerank-rag/internal/vectorstore"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Set up structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("starting RAG service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"llm_model", cfg.LLMModel,
		"llm_context", cfg.LLMContext,
		"embedding_model", cfg.EmbeddingModel,
		"reranker_model", cfg.RerankerModel,
	)

	settings, err := pipeline.NewSettings(cfg)
	if err != nil {
		return fmt.Errorf("invalid pipeline settings: %w", err)
	}

	// Initialize Qdrant vector store
	store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		Host:   cfg.QdrantHost,
		Port:   cfg.QdrantPort,
		APIKey: cfg.QdrantAPIKey,
		UseTLS: cfg.QdrantUseTLS,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("failed to close Qdrant client", "error", err)
		}
	}()
	slog.Info("initialized Qdrant client", "addr", cfg.QdrantAddr())

	// Initialize embedder
	baseEmbedder := embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
		BaseURL:          cfg.EmbeddingURL,
		APIKey:           cfg.EmbeddingAPIKey,
		Model:            cfg.EmbeddingModel,
		BatchSize:        cfg.EmbeddingBatchSize,
		BatchConcurrency: cfg.EmbeddingConcurrency,
		HTTPClient:       httpclient.NewPooledClient(cfg.RetrievalTimeout),
	})
	embed, err := embedder.NewCachedEmbedder(baseEmbedder, cfg.EmbeddingCacheSize)
	if err != nil {
		return fmt.Errorf("failed to create embedding cache: %w", err)
	}
	slog.Info("initialized embedder", "model", cfg.EmbeddingModel, "cache_size", cfg.EmbeddingCacheSize)

	// Initialize generation client
	llmClient := llm.NewOpenAIClient(
		llm.WithBaseURL(cfg.LLMURL),
		llm.WithAPIKey(cfg.LLMAPIKey),
		llm.WithModel(cfg.LLMModel),
		llm.WithTemperature(cfg.LLMTemperature),
		llm.WithMaxTokens(cfg.LLMMaxTokens),
		llm.WithHTTPClient(httpclient.NewPooledClient(cfg.LLMTimeout)),
	)
	slog.Info("initialized LLM", "model", cfg.LLMModel)

	// Initialize reranker
	rerank := reranker.NewClient(reranker.ClientConfig{
		URL:            cfg.RerankerURL,
		Model:          cfg.RerankerModel,
		Timeout:        cfg.RerankerTimeout,
		BreakerEnabled: cfg.RerankerBreakerEnabled,
		BreakerTimeout: cfg.RerankerBreakerTimeout,
		HTTPClient:     httpclient.NewPooledClient(0),
		Logger:         logger,
	})
	slog.Info("initialized reranker", "model", cfg.RerankerModel, "timeout", cfg.RerankerTimeout.String())

	// Initialize services
	ret := retriever.New(embed, store, retriever.Config{
		Timeout:        cfg.RetrievalTimeout,
		DedupThreshold: cfg.DedupThreshold,
		Logger:         logger,
	})
	querySvc := pipeline.NewService(ret, llmClient, settings,
		pipeline.WithReranker(rerank),
		pipeline.WithLogger(logger),
	)
	ingestSvc := ingestion.NewService(baseEmbedder, store, ingestion.Config{
		Chunker:  ingestion.ChunkerConfigFrom(cfg),
		Patterns: cfg.IngestPatterns,
		Logger:   logger,
	})

	// Create HTTP server
	httpServer := server.New(server.Config{
		Port:              cfg.HTTPPort,
		AllowedOrigins:    cfg.AllowedOrigins,
		APIKey:            cfg.APIKey,
		RateLimitRPS:      cfg.RateLimitRPS,
		RateLimitBurst:    cfg.RateLimitBurst,
		DefaultCollection: cfg.DefaultCollection,
		Dependencies: server.Dependencies{
			LLMURL:       cfg.LLMURL,
			EmbeddingURL: cfg.EmbeddingURL,
			RerankerURL:  cfg.RerankerURL,
			QdrantHost:   cfg.QdrantAddr(),
		},
		Logger: logger,
	}, querySvc, ingestSvc, store)

	// Start server
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "port", cfg.HTTPPort)
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig.String())
	}

	// Graceful shutdown: in-flight requests finish before handles close.
	slog.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}
	httpclient.CloseIdle()

	slog.Info("server stopped")
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Ensure interfaces are satisfied at compile time
var (
	_ vectorstore.VectorStore = (*vectorstore.QdrantStore)(nil)
	_ retriever.Searcher      = (*vectorstore.QdrantStore)(nil)
	_ ingestion.Store         = (*vectorstore.QdrantStore)(nil)
	_ server.Collections      = (*vectorstore.QdrantStore)(nil)
	_ embedder.Embedder       = (*embedder.OpenAIEmbedder)(nil)
	_ llm.LLM                 = (*llm.OpenAIClient)(nil)
	_ pipeline.Generator      = (*llm.OpenAIClient)(nil)
	_ reranker.Reranker       = (*reranker.Client)(nil)
	_ server.QueryService     = (*pipeline.Service)(nil)
	_ server.Ingester         = (*ingestion.Service)(nil)
)
