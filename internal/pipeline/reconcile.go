package pipeline

import (
	"github.com/knoguchi/rerank-rag/internal/reranker"
	"github.com/knoguchi/rerank-rag/internal/retriever"
)

// Reconcile merges reranker output back onto the candidates it was computed
// from. Results are walked in their given order; each valid index selects a
// copy of that candidate whose Score is replaced by the relevance score.
// Indices outside the candidate slice and repeated indices are skipped.
//
// This is the only place the answer set is truncated: walking stops once
// finalCount entries are collected. With no results the candidates pass
// through in retrieval order, truncated to finalCount.
func Reconcile(candidates []retriever.Candidate, results []reranker.Result, finalCount int) []retriever.Candidate {
	if finalCount <= 0 {
		return []retriever.Candidate{}
	}

	if len(results) == 0 {
		n := min(finalCount, len(candidates))
		out := make([]retriever.Candidate, n)
		copy(out, candidates[:n])
		return out
	}

	out := make([]retriever.Candidate, 0, min(finalCount, len(results)))
	seen := make(map[int]struct{}, len(results))
	for _, r := range results {
		if len(out) == finalCount {
			break
		}
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		if _, dup := seen[r.Index]; dup {
			continue
		}
		seen[r.Index] = struct{}{}

		c := candidates[r.Index]
		c.Score = r.RelevanceScore
		out = append(out, c)
	}
	return out
}

// filterByScore drops reconciled entries scoring below minScore.
// A non-positive minScore keeps everything.
func filterByScore(reconciled []retriever.Candidate, minScore float64) []retriever.Candidate {
	if minScore <= 0 {
		return reconciled
	}
	out := make([]retriever.Candidate, 0, len(reconciled))
	for _, c := range reconciled {
		if c.Score >= minScore {
			out = append(out, c)
		}
	}
	return out
}
