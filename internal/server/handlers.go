package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/knoguchi/rerank-rag/internal/ingestion"
	"github.com/knoguchi/rerank-rag/internal/pipeline"
	"github.com/knoguchi/rerank-rag/internal/retriever"
	"github.com/knoguchi/rerank-rag/internal/vectorstore"
)

const (
	maxBodyBytes   = 1 << 20
	readinessLimit = 3 * time.Second
)

type queryRequest struct {
	Question    string `json:"question"`
	Collection  string `json:"collection"`
	UseReranker *bool  `json:"use_reranker"`
	TopK        *int   `json:"top_k"`
	RerankTopN  *int   `json:"rerank_top_n"`
}

type ingestRequest struct {
	FilePath   string `json:"file_path"`
	Collection string `json:"collection"`
}

type ingestResponse struct {
	Status             string `json:"status"`
	Collection         string `json:"collection"`
	DocumentsProcessed int    `json:"documents_processed"`
}

type collectionsResponse struct {
	Collections []string `json:"collections"`
}

type healthResponse struct {
	Status       string `json:"status"`
	LLMURL       string `json:"llm_url"`
	EmbeddingURL string `json:"embedding_url"`
	RerankerURL  string `json:"reranker_url"`
	QdrantHost   string `json:"qdrant_host"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.query.Query(r.Context(), pipeline.Request{
		Question:    req.Question,
		Collection:  req.Collection,
		UseReranker: req.UseReranker,
		TopK:        req.TopK,
		RerankTopN:  req.RerankTopN,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.FilePath) == "" {
		writeDetail(w, http.StatusBadRequest, "file_path is required")
		return
	}
	collection := strings.TrimSpace(req.Collection)
	if collection == "" {
		collection = s.cfg.DefaultCollection
	}

	result, err := s.ingester.Ingest(r.Context(), req.FilePath, collection)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Status:             "success",
		Collection:         result.Collection,
		DocumentsProcessed: result.DocumentsProcessed,
	})
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	names, err := s.collections.ListCollections(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, collectionsResponse{Collections: names})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	deps := s.cfg.Dependencies
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "healthy",
		LLMURL:       deps.LLMURL,
		EmbeddingURL: deps.EmbeddingURL,
		RerankerURL:  deps.RerankerURL,
		QdrantHost:   deps.QdrantHost,
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessLimit)
	defer cancel()

	if err := s.collections.Ping(ctx); err != nil {
		s.logger.Warn("readiness_check_failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"detail": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidQuery),
		errors.Is(err, ingestion.ErrNoDocuments):
		return http.StatusBadRequest
	case errors.Is(err, retriever.ErrCollectionNotFound),
		errors.Is(err, vectorstore.ErrCollectionNotFound),
		errors.Is(err, ingestion.ErrPathNotFound):
		return http.StatusNotFound
	case errors.Is(err, retriever.ErrRetrievalUnavailable),
		errors.Is(err, vectorstore.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "request_failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()))
	writeDetail(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
