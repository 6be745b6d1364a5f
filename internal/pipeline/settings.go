package pipeline

import (
	"errors"
	"fmt"

	"github.com/knoguchi/rerank-rag/internal/config"
)

const defaultSystemPrompt = `You are a helpful assistant that answers questions based on the provided context documents.
Use only information found in the context. If the context does not contain the answer, say so plainly.
Do not mention document numbers or scores in your answer.`

// Settings are the query defaults. Build them with NewSettings and do not
// modify them afterwards; they are shared by all in-flight queries.
type Settings struct {
	// TopK is the default number of candidates retrieved.
	TopK int

	// MaxTopK bounds per-request top_k and rerank_top_n overrides.
	MaxTopK int

	// RerankTopN is the default size of the reranked answer set.
	RerankTopN int

	// DefaultCollection is used when a request names none.
	DefaultCollection string

	// PreviewLength is the number of characters kept per source text.
	PreviewLength int

	// SourceMinScore drops sources scoring below it before assembly.
	// Zero disables the filter.
	SourceMinScore float64

	// SystemPrompt is sent to the generator with every query.
	SystemPrompt string
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		TopK:              20,
		MaxTopK:           100,
		RerankTopN:        5,
		DefaultCollection: "documents",
		PreviewLength:     500,
		SystemPrompt:      defaultSystemPrompt,
	}
}

// NewSettings derives Settings from the service configuration.
func NewSettings(cfg *config.Config) (Settings, error) {
	s := DefaultSettings()
	s.TopK = cfg.TopK
	s.RerankTopN = cfg.RerankTopN
	if cfg.MaxTopK > 0 {
		s.MaxTopK = cfg.MaxTopK
	}
	s.DefaultCollection = cfg.DefaultCollection
	s.PreviewLength = cfg.PreviewLength
	s.SourceMinScore = cfg.SourceMinScore
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate reports every out-of-range field.
func (s Settings) Validate() error {
	var errs []error
	if s.TopK <= 0 {
		errs = append(errs, fmt.Errorf("top_k must be positive, got %d", s.TopK))
	}
	if s.RerankTopN <= 0 {
		errs = append(errs, fmt.Errorf("rerank_top_n must be positive, got %d", s.RerankTopN))
	}
	if s.MaxTopK <= 0 {
		errs = append(errs, fmt.Errorf("max top_k must be positive, got %d", s.MaxTopK))
	}
	if s.TopK > s.MaxTopK || s.RerankTopN > s.MaxTopK {
		errs = append(errs, fmt.Errorf("top_k (%d) and rerank_top_n (%d) must not exceed max top_k (%d)", s.TopK, s.RerankTopN, s.MaxTopK))
	}
	if s.PreviewLength <= 0 {
		errs = append(errs, fmt.Errorf("preview length must be positive, got %d", s.PreviewLength))
	}
	if s.DefaultCollection == "" {
		errs = append(errs, errors.New("default collection must not be empty"))
	}
	if s.SourceMinScore < 0 {
		errs = append(errs, fmt.Errorf("source min score must not be negative, got %g", s.SourceMinScore))
	}
	return errors.Join(errs...)
}
