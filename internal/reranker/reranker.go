// Package reranker provides re-ranking capabilities for RAG retrieval results.
//
// Re-ranking sends the query and the retrieved passages to an external
// cross-encoder service, which scores each query-passage pair together rather
// than comparing independently computed embeddings.
//
// # Failure model
//
// The reranker is fail-open. A network error, timeout, non-2xx status or an
// undecodable body never reaches the caller as an error. Instead Rerank
// returns an Outcome with Status Degraded and a deterministic fallback list
// (the first top_n positions, each scored 1.0, in retrieval order). The
// fallback looks like a genuine "no reordering" answer, so callers must decide
// whether reranking happened from Outcome.Status, never from the results.
//
// # Trade-offs
//
//   - Latency: one extra network round trip per query, bounded by the client timeout
//   - Quality: large gains when the top vector hits have similar similarity scores
//   - Availability: an outage degrades ranking but never fails the query
package reranker

import "context"

// missingIndex marks a result whose positional reference could not be parsed.
// It is outside every valid range, so bounds checks reject it.
const missingIndex = -1

// Result is one entry of the reranker's answer.
type Result struct {
	// Index is the position of the scored document in the slice that was sent.
	Index int

	// RelevanceScore is the cross-encoder score. It replaces, never combines
	// with, the retrieval similarity score.
	RelevanceScore float64
}

// Status tells whether the reranker actually produced the results.
type Status int

const (
	// StatusOK means the endpoint answered and its ranking was decoded.
	StatusOK Status = iota

	// StatusDegraded means the call failed and Results holds the fallback.
	StatusDegraded
)

func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	return "degraded"
}

// Outcome is the two-state result of a rerank call.
type Outcome struct {
	Status  Status
	Results []Result

	// Err is the cause of a degraded outcome. Nil when Status is StatusOK.
	Err error
}

// OK reports whether the results come from the reranker itself.
func (o Outcome) OK() bool {
	return o.Status == StatusOK
}

// Reranker defines the interface for re-ranking passages.
type Reranker interface {
	// Rerank scores documents against query and returns at most topN results
	// ordered by descending relevance. documents must be passed exactly in
	// retrieval order; Result.Index refers to positions in that slice.
	Rerank(ctx context.Context, query string, documents []string, topN int) Outcome

	// ModelName returns the model identifier for logging.
	ModelName() string
}

// Fallback returns the degraded answer for a rerank of n documents: the first
// min(topN, n) positions in order, each with a neutral score of 1.0.
func Fallback(topN, n int) []Result {
	if topN <= 0 || topN > n {
		topN = n
	}
	results := make([]Result, topN)
	for i := range results {
		results[i] = Result{Index: i, RelevanceScore: 1.0}
	}
	return results
}
