// Package retriever fetches ordered candidate passages for a question from a
// vector collection.
package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/knoguchi/rerank-rag/internal/embedder"
	"github.com/knoguchi/rerank-rag/internal/vectorstore"
)

var (
	// ErrCollectionNotFound is returned when the target collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrRetrievalUnavailable is returned when the index backend (or the
	// embedding backend in front of it) cannot be reached in time.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
)

// dedupOverfetch is how many extra hits are requested per slot when
// near-duplicate collapsing is on.
const dedupOverfetch = 3

// maxSearchLimit caps the number of hits requested from the vector store.
const maxSearchLimit = 10000

// payload keys that hold the passage text or serialization internals.
const (
	keyContent     = "content"
	keyText        = "text"
	keyNodeContent = "_node_content"
	keyNodeType    = "_node_type"
)

// Candidate is a retrieved passage. Its position in the returned slice is the
// index the reranker refers to.
type Candidate struct {
	Content  string
	Score    float64
	Metadata map[string]any
}

// Query describes one retrieval.
type Query struct {
	Text       string
	Collection string
	TopK       int
}

// Searcher is the subset of the vector store used for retrieval.
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]vectorstore.ScoredPoint, error)
}

// Config configures a Retriever.
type Config struct {
	// Timeout bounds embedding plus search. Zero means no extra bound.
	Timeout time.Duration

	// DedupThreshold collapses hits whose word-set Jaccard similarity is at
	// least this value, keeping the higher-ranked one. Zero disables it.
	DedupThreshold float64

	Logger *slog.Logger
}

// Retriever embeds the question and searches the collection.
type Retriever struct {
	embedder embedder.Embedder
	searcher Searcher
	cfg      Config
	logger   *slog.Logger
}

// New creates a Retriever.
func New(emb embedder.Embedder, searcher Searcher, cfg Config) *Retriever {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: emb,
		searcher: searcher,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve returns at most q.TopK candidates ordered by descending similarity.
// Failures are returned as-is to the caller; nothing is retried here.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]Candidate, error) {
	if q.TopK <= 0 || q.TopK > maxSearchLimit {
		return nil, fmt.Errorf("top_k must be in [1, %d], got %d", maxSearchLimit, q.TopK)
	}
	if q.Collection == "" {
		return nil, errors.New("collection is required")
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()

	vector, err := r.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, mapEmbedError(err)
	}

	limit := q.TopK
	if r.cfg.DedupThreshold > 0 {
		limit = min(limit*dedupOverfetch, maxSearchLimit)
	}

	hits, err := r.searcher.Search(ctx, q.Collection, vector, limit)
	if err != nil {
		return nil, mapSearchError(q.Collection, err)
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		candidates = append(candidates, decodeCandidate(hit))
	}

	if r.cfg.DedupThreshold > 0 {
		candidates = deduplicate(candidates, r.cfg.DedupThreshold)
	}
	if len(candidates) > q.TopK {
		candidates = candidates[:q.TopK]
	}

	r.logger.Info("retrieval_completed",
		slog.String("collection", q.Collection),
		slog.Int("top_k", q.TopK),
		slog.Int("hit_count", len(hits)),
		slog.Int("candidate_count", len(candidates)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	return candidates, nil
}

func mapEmbedError(err error) error {
	if errors.Is(err, embedder.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: embed query: %w", ErrRetrievalUnavailable, err)
	}
	return fmt.Errorf("embed query: %w", err)
}

func mapSearchError(collection string, err error) error {
	switch {
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	case errors.Is(err, vectorstore.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
	default:
		return fmt.Errorf("search %q: %w", collection, err)
	}
}

// decodeCandidate pulls the passage text out of a hit's payload and keeps the
// remaining fields as metadata. Collections written by LlamaIndex keep the
// text inside the JSON string "_node_content".
func decodeCandidate(hit vectorstore.ScoredPoint) Candidate {
	metadata := make(map[string]any, len(hit.Payload))
	for k, v := range hit.Payload {
		switch k {
		case keyContent, keyText, keyNodeContent, keyNodeType:
			continue
		}
		metadata[k] = v
	}

	return Candidate{
		Content:  payloadText(hit.Payload),
		Score:    float64(hit.Score),
		Metadata: metadata,
	}
}

func payloadText(payload map[string]any) string {
	if s, ok := payload[keyContent].(string); ok && s != "" {
		return s
	}
	if s, ok := payload[keyText].(string); ok && s != "" {
		return s
	}
	if raw, ok := payload[keyNodeContent].(string); ok && raw != "" {
		var node struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(raw), &node); err == nil {
			return node.Text
		}
	}
	return ""
}
