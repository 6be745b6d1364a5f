package pipeline

import (
	"fmt"
	"strings"

	"github.com/knoguchi/rerank-rag/internal/retriever"
)

// buildPrompt lays out the reconciled passages and the question. Scores are
// left out so they do not bias the model.
func buildPrompt(sources []retriever.Candidate, question string) string {
	var sb strings.Builder

	sb.WriteString("## Context Documents\n\n")
	if len(sources) == 0 {
		sb.WriteString("(no relevant documents were found)\n\n")
	}
	for i, src := range sources {
		fmt.Fprintf(&sb, "[Doc %d]", i+1)
		if name, ok := src.Metadata["file_name"].(string); ok && name != "" {
			fmt.Fprintf(&sb, " (Source: %s)", name)
		}
		sb.WriteString("\n")
		sb.WriteString(src.Content)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Question\n")
	sb.WriteString(question)
	sb.WriteString("\n\n")
	sb.WriteString("## Answer (be brief and direct)\n")

	return sb.String()
}
