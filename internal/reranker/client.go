package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/sony/gobreaker"
)

const (
	// DefaultTimeout bounds a single rerank call.
	DefaultTimeout = 30 * time.Second

	// maxResponseBytes caps how much of the response body is read.
	maxResponseBytes = 8 << 20

	// breakerTripAfter is the number of consecutive failures that opens the breaker.
	breakerTripAfter = 5
)

// ClientConfig configures the HTTP reranker client.
type ClientConfig struct {
	// URL is the full rerank endpoint, e.g. http://tei:8080/v1/rerank.
	URL string

	// Model is sent as the "model" field of every request.
	Model string

	// Timeout bounds each call. Exceeding it triggers the fallback.
	Timeout time.Duration

	// BreakerEnabled turns on the circuit breaker. While open, calls return
	// the fallback immediately without touching the network.
	BreakerEnabled bool

	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration

	// HTTPClient is an optional shared client.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client implements Reranker against a Cohere/Jina/TEI-style HTTP endpoint.
// It is safe for concurrent use.
type Client struct {
	url     string
	model   string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		url:     cfg.URL,
		model:   cfg.Model,
		timeout: timeout,
		http:    httpClient,
		logger:  logger,
	}

	if cfg.BreakerEnabled {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "reranker",
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerTripAfter
			},
			// A caller giving up is not a reranker failure.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("reranker_breaker_state_changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	}

	return c
}

// rerankRequest is the request body for the rerank endpoint.
type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

// Rerank sends documents, untouched and in order, to the endpoint. It never
// returns an error: failures yield a Degraded outcome carrying Fallback.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topN int) Outcome {
	if len(documents) == 0 {
		return Outcome{Status: StatusOK, Results: []Result{}}
	}
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}

	start := time.Now()
	c.logger.Info("reranking_started",
		slog.String("query", truncate(query, 100)),
		slog.Int("document_count", len(documents)),
		slog.Int("top_n", topN),
		slog.String("model", c.model))

	results, err := c.execute(ctx, query, documents, topN)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		c.logger.Warn("reranking_failed_using_fallback",
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", elapsed))
		return Outcome{
			Status:  StatusDegraded,
			Results: Fallback(topN, len(documents)),
			Err:     err,
		}
	}

	c.logger.Info("reranking_completed",
		slog.Int("result_count", len(results)),
		slog.Int64("elapsed_ms", elapsed))

	return Outcome{Status: StatusOK, Results: results}
}

// ModelName returns the model identifier for logging.
func (c *Client) ModelName() string {
	return c.model
}

func (c *Client) execute(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if c.breaker == nil {
		return c.call(ctx, query, documents, topN)
	}
	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.call(ctx, query, documents, topN)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Result), nil
}

func (c *Client) call(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call rerank endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read rerank response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("rerank endpoint returned %d: %s", resp.StatusCode, truncate(string(payload), 500))
	}

	return ParseResponse(payload)
}

// rawResult accepts both naming conventions seen in rerank APIs.
type rawResult struct {
	Index          json.RawMessage `json:"index"`
	DocumentIndex  json.RawMessage `json:"document_index"`
	RelevanceScore *float64        `json:"relevance_score"`
	Score          *float64        `json:"score"`
}

type envelope struct {
	Results []rawResult `json:"results"`
	Data    []rawResult `json:"data"`
}

// ParseResponse decodes a rerank response body. The body may be a bare array
// or an object with a "results" (or "data") array. For each item the
// positional reference is read from "index" first, then "document_index";
// when neither holds an integer the index is set to a sentinel that bounds
// checks reject. The score is "relevance_score", else "score", else 0.
//
// The returned slice keeps every entry. It is ordered by descending score;
// equal scores keep ascending index, i.e. original retrieval order.
func ParseResponse(body []byte) ([]Result, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty rerank response")
	}

	var items []rawResult
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode rerank response: %w", err)
		}
	case '{':
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode rerank response: %w", err)
		}
		items = env.Results
		if items == nil {
			items = env.Data
		}
		if items == nil {
			return nil, errors.New("rerank response has no results array")
		}
	default:
		return nil, fmt.Errorf("unexpected rerank response: %s", truncate(string(body), 100))
	}

	results := make([]Result, len(items))
	for i, item := range items {
		results[i] = Result{
			Index:          item.index(),
			RelevanceScore: item.score(),
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].Index < results[j].Index
	})

	return results, nil
}

func (r rawResult) index() int {
	if idx, ok := parseIndex(r.Index); ok {
		return idx
	}
	if idx, ok := parseIndex(r.DocumentIndex); ok {
		return idx
	}
	return missingIndex
}

func (r rawResult) score() float64 {
	switch {
	case r.RelevanceScore != nil:
		return *r.RelevanceScore
	case r.Score != nil:
		return *r.Score
	default:
		return 0
	}
}

func parseIndex(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// truncate keeps the first maxLen runes so multi-byte text is never split.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// Ensure Client implements Reranker.
var _ Reranker = (*Client)(nil)
