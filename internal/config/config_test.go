package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("LLM_PRIMARY_URL", "http://llm:8000/v1")
	t.Setenv("LLM_PRIMARY_MODEL", "qwen2.5")
	t.Setenv("EMBEDDING_URL", "http://embed:8000/v1")
	t.Setenv("EMBEDDING_MODEL", "bge-m3")
	t.Setenv("RERANKER_URL", "http://rerank:8000/v1/rerank")
	t.Setenv("RERANKER_MODEL", "bge-reranker-v2-m3")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.HTTPPort)
	assert.Equal(t, 20, cfg.TopK)
	assert.Equal(t, 5, cfg.RerankTopN)
	assert.Equal(t, 256, cfg.ChunkSize)
	assert.Equal(t, 384, cfg.ChunkMaxSize)
	assert.Equal(t, 32, cfg.ChunkOverlap)
	assert.Equal(t, 100, cfg.MaxTopK)
	assert.Equal(t, 500, cfg.PreviewLength)
	assert.Equal(t, "documents", cfg.DefaultCollection)
	assert.Equal(t, 30*time.Second, cfg.RerankerTimeout)
	assert.Equal(t, 120*time.Second, cfg.LLMTimeout)
	assert.Equal(t, "qdrant-service:6334", cfg.QdrantAddr())
	assert.Equal(t, []string{"**/*.txt", "**/*.md", "**/*.markdown"}, cfg.IngestPatterns)
	assert.Equal(t, "bge-reranker-v2-m3", cfg.RerankerModel)
}

func TestLoad_MissingRequiredKey(t *testing.T) {
	for _, key := range RequiredKeys {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, "")

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("RAG_TOP_K", "30")
	t.Setenv("RERANK_TOP_N", "10")
	t.Setenv("RERANKER_TIMEOUT", "5s")
	t.Setenv("SOURCE_MIN_SCORE", "0.7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.TopK)
	assert.Equal(t, 10, cfg.RerankTopN)
	assert.Equal(t, 5*time.Second, cfg.RerankerTimeout)
	assert.Equal(t, 0.7, cfg.SourceMinScore)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "zero top k", env: map[string]string{"RAG_TOP_K": "0"}, wantErr: "RAG_TOP_K"},
		{name: "negative rerank top n", env: map[string]string{"RERANK_TOP_N": "-1"}, wantErr: "RERANK_TOP_N"},
		{name: "overlap not below size", env: map[string]string{"CHUNK_SIZE": "100", "CHUNK_OVERLAP": "100"}, wantErr: "CHUNK_OVERLAP"},
		{name: "max chunk below size", env: map[string]string{"CHUNK_SIZE": "300", "CHUNK_MAX_SIZE": "200"}, wantErr: "CHUNK_MAX_SIZE"},
		{name: "top k above max", env: map[string]string{"RAG_TOP_K": "150"}, wantErr: "MAX_TOP_K"},
		{name: "rerank top n above max", env: map[string]string{"MAX_TOP_K": "10", "RAG_TOP_K": "10", "RERANK_TOP_N": "11"}, wantErr: "RERANK_TOP_N"},
		{name: "zero reranker timeout", env: map[string]string{"RERANKER_TIMEOUT": "0s"}, wantErr: "RERANKER_TIMEOUT"},
		{name: "dedup out of range", env: map[string]string{"DEDUP_THRESHOLD": "1.5"}, wantErr: "DEDUP_THRESHOLD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
