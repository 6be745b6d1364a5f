// Package pipeline answers questions by chaining retrieval, optional
// reranking, reconciliation, generation and response assembly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knoguchi/rerank-rag/internal/llm"
	"github.com/knoguchi/rerank-rag/internal/reranker"
	"github.com/knoguchi/rerank-rag/internal/retriever"
)

var (
	// ErrInvalidQuery is returned for requests that fail validation.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrGeneration is returned when the answer could not be generated.
	ErrGeneration = errors.New("generation failed")
)

// Retriever produces ordered candidates for a query.
type Retriever interface {
	Retrieve(ctx context.Context, q retriever.Query) ([]retriever.Candidate, error)
}

// Generator produces the answer text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error)
}

// Request is one question. Nil pointer fields take the configured defaults.
type Request struct {
	Question    string
	Collection  string
	UseReranker *bool
	TopK        *int
	RerankTopN  *int
}

// Service runs the query pipeline. It holds only read-only handles and is
// safe for concurrent use.
type Service struct {
	retriever Retriever
	reranker  reranker.Reranker
	generator Generator
	settings  Settings
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithReranker enables reranking. Without it every query takes the
// passthrough path.
func WithReranker(r reranker.Reranker) Option {
	return func(s *Service) {
		s.reranker = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService creates a Service.
func NewService(ret Retriever, gen Generator, settings Settings, opts ...Option) *Service {
	s := &Service{
		retriever: ret,
		generator: gen,
		settings:  settings,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settings returns the defaults the service was built with.
func (s *Service) Settings() Settings {
	return s.settings
}

// Query answers a question.
func (s *Service) Query(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	q, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	s.logger.Info("query_started",
		slog.String("question", truncate(q.question, 100)),
		slog.String("collection", q.collection),
		slog.Int("top_k", q.topK),
		slog.Int("rerank_top_n", q.rerankTopN),
		slog.Bool("use_reranker", q.useReranker))

	candidates, err := s.retriever.Retrieve(ctx, retriever.Query{
		Text:       q.question,
		Collection: q.collection,
		TopK:       q.topK,
	})
	if err != nil {
		return nil, err
	}

	reconciled, reranked := s.rank(ctx, q, candidates)
	reconciled = filterByScore(reconciled, s.settings.SourceMinScore)

	genStart := time.Now()
	answer, err := s.generator.Generate(ctx, buildPrompt(reconciled, q.question), llm.GenerateOptions{
		SystemPrompt: s.settings.SystemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	resp := Assemble(reconciled, answer, reranked, s.settings.PreviewLength)

	s.logger.Info("query_completed",
		slog.Int("candidate_count", len(candidates)),
		slog.Int("source_count", len(resp.Sources)),
		slog.Bool("reranked", reranked),
		slog.Int64("generation_ms", time.Since(genStart).Milliseconds()),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	return &resp, nil
}

// rank reorders candidates through the reranker when enabled and reports
// whether the reranker's own ranking was applied.
func (s *Service) rank(ctx context.Context, q resolvedQuery, candidates []retriever.Candidate) ([]retriever.Candidate, bool) {
	if !q.useReranker || s.reranker == nil {
		return Reconcile(candidates, nil, q.topK), false
	}
	if len(candidates) == 0 {
		return Reconcile(candidates, nil, q.rerankTopN), false
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Content
	}

	outcome := s.reranker.Rerank(ctx, q.question, documents, q.rerankTopN)
	if !outcome.OK() {
		s.logger.Warn("rerank_degraded",
			slog.String("model", s.reranker.ModelName()),
			slog.Any("error", outcome.Err))
		return Reconcile(candidates, nil, q.rerankTopN), false
	}
	if len(outcome.Results) == 0 {
		return Reconcile(candidates, nil, q.rerankTopN), false
	}

	reconciled := Reconcile(candidates, outcome.Results, q.rerankTopN)
	if len(reconciled) < min(q.rerankTopN, len(outcome.Results)) {
		s.logger.Warn("rerank_results_skipped",
			slog.Int("result_count", len(outcome.Results)),
			slog.Int("reconciled_count", len(reconciled)))
	}
	return reconciled, true
}

type resolvedQuery struct {
	question    string
	collection  string
	useReranker bool
	topK        int
	rerankTopN  int
}

func (s *Service) resolve(req Request) (resolvedQuery, error) {
	q := resolvedQuery{
		question:    strings.TrimSpace(req.Question),
		collection:  strings.TrimSpace(req.Collection),
		useReranker: true,
		topK:        s.settings.TopK,
		rerankTopN:  s.settings.RerankTopN,
	}

	if q.question == "" {
		return q, fmt.Errorf("%w: question is required", ErrInvalidQuery)
	}
	if q.collection == "" {
		q.collection = s.settings.DefaultCollection
	}
	if req.UseReranker != nil {
		q.useReranker = *req.UseReranker
	}
	if req.TopK != nil {
		if *req.TopK <= 0 {
			return q, fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidQuery, *req.TopK)
		}
		if *req.TopK > s.settings.MaxTopK {
			return q, fmt.Errorf("%w: top_k must be at most %d, got %d", ErrInvalidQuery, s.settings.MaxTopK, *req.TopK)
		}
		q.topK = *req.TopK
	}
	if req.RerankTopN != nil {
		if *req.RerankTopN <= 0 {
			return q, fmt.Errorf("%w: rerank_top_n must be positive, got %d", ErrInvalidQuery, *req.RerankTopN)
		}
		if *req.RerankTopN > s.settings.MaxTopK {
			return q, fmt.Errorf("%w: rerank_top_n must be at most %d, got %d", ErrInvalidQuery, s.settings.MaxTopK, *req.RerankTopN)
		}
		q.rerankTopN = *req.RerankTopN
	}
	return q, nil
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
