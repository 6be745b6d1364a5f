package pipeline

import (
	"math"

	"github.com/knoguchi/rerank-rag/internal/retriever"
)

// truncationMarker is appended to previews that were cut.
const truncationMarker = "…"

// Source is one entry of the response's provenance list.
type Source struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// Response is the externally visible answer to a query.
type Response struct {
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Reranked bool     `json:"reranked"`
}

// Assemble builds the response. It does not filter or reorder: every
// reconciled entry becomes a source, in order, with its text cut to
// previewLength runes.
func Assemble(reconciled []retriever.Candidate, answer string, reranked bool, previewLength int) Response {
	sources := make([]Source, len(reconciled))
	for i, c := range reconciled {
		metadata := c.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		sources[i] = Source{
			Text:     preview(c.Content, previewLength),
			Score:    finiteScore(c.Score),
			Metadata: metadata,
		}
	}

	return Response{
		Answer:   answer,
		Sources:  sources,
		Reranked: reranked,
	}
}

func preview(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + truncationMarker
}

// finiteScore keeps the JSON schema stable: encoding/json rejects NaN and Inf.
func finiteScore(s float64) float64 {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return s
}
