package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
)

const (
	// DefaultMinSourceScore hides low-relevance sources from formatted answers.
	DefaultMinSourceScore = 0.7

	sourcePreviewLength = 150
	unknownFileName     = "Unknown"
)

// Strategy is a named retrieval preset.
type Strategy struct {
	TopK       int
	RerankTopN int
}

// Strategies are the built-in retrieval presets.
var Strategies = map[string]Strategy{
	"fast":          {TopK: 10, RerankTopN: 3},
	"balanced":      {TopK: 20, RerankTopN: 5},
	"comprehensive": {TopK: 30, RerankTopN: 10},
}

// AskOptions configures Ask.
type AskOptions struct {
	Collection     string
	UseReranker    bool
	Strategy       Strategy
	IncludeSources bool
	MinSourceScore float64
}

// DefaultAskOptions returns the chat-layer defaults.
func DefaultAskOptions() AskOptions {
	return AskOptions{
		Collection:     "documents",
		UseReranker:    true,
		Strategy:       Strategies["balanced"],
		IncludeSources: true,
		MinSourceScore: DefaultMinSourceScore,
	}
}

// Ask checks that the collection exists, queries it and renders the answer
// as Markdown for a chat user. Failures are rendered as user-facing
// messages rather than returned.
func (c *Client) Ask(ctx context.Context, question string, opts AskOptions) string {
	collections, err := c.Collections(ctx)
	if err != nil {
		return describeError(err, "cannot connect to the RAG service")
	}
	if !slices.Contains(collections, opts.Collection) {
		return fmt.Sprintf("⚠️ Collection '%s' does not exist. Ingest documents first.", opts.Collection)
	}

	useReranker := opts.UseReranker
	req := QueryRequest{
		Question:    question,
		Collection:  opts.Collection,
		UseReranker: &useReranker,
	}
	if opts.Strategy.TopK > 0 {
		req.TopK = &opts.Strategy.TopK
	}
	if opts.Strategy.RerankTopN > 0 {
		req.RerankTopN = &opts.Strategy.RerankTopN
	}

	resp, err := c.Query(ctx, req)
	if err != nil {
		return describeError(err, "")
	}

	return Format(resp, opts.IncludeSources, opts.MinSourceScore)
}

// Format renders a query response: the answer, a note when reranking was
// applied, and the sources scoring at least minScore. Source numbering keeps
// each source's position in the response.
func Format(resp *QueryResponse, includeSources bool, minScore float64) string {
	var sb strings.Builder
	sb.WriteString(resp.Answer)

	if resp.Reranked {
		sb.WriteString("\n\n🔍 *Answer refined with reranking*")
	}

	if includeSources && len(resp.Sources) > 0 {
		sb.WriteString("\n\n📚 **Sources:**\n")
		for i, src := range resp.Sources {
			if src.Score < minScore {
				continue
			}
			name, _ := src.Metadata["file_name"].(string)
			if name == "" {
				name = unknownFileName
			}
			fmt.Fprintf(&sb, "\n%d. **%s** (relevance: %.2f)\n", i+1, name, src.Score)
			fmt.Fprintf(&sb, "   _%s..._\n", previewRunes(src.Text, sourcePreviewLength))
		}
	}

	return sb.String()
}

func previewRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func describeError(err error, connectMsg string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if connectMsg != "" {
			return "⚠️ Error: " + connectMsg
		}
		return "❌ RAG error: " + apiErr.Detail
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "⏱️ Timeout: the query took too long. Try a more specific question."
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "⏱️ Timeout: the query took too long. Try a more specific question."
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "🔌 Connection error: cannot reach the RAG service. Check that it is running."
	}
	return "❌ Unexpected error: " + err.Error()
}
