// Package client is a Go client for the RAG service HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/knoguchi/rerank-rag/internal/httpclient"
)

// DefaultTimeout matches the chat layer's query timeout.
const DefaultTimeout = 60 * time.Second

// QueryRequest is the body of POST /query. Nil fields use server defaults.
type QueryRequest struct {
	Question    string `json:"question"`
	Collection  string `json:"collection,omitempty"`
	UseReranker *bool  `json:"use_reranker,omitempty"`
	TopK        *int   `json:"top_k,omitempty"`
	RerankTopN  *int   `json:"rerank_top_n,omitempty"`
}

// Source is one provenance entry of a query response.
type Source struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// QueryResponse is the body returned by POST /query.
type QueryResponse struct {
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Reranked bool     `json:"reranked"`
}

// IngestResponse is the body returned by POST /ingest.
type IngestResponse struct {
	Status             string `json:"status"`
	Collection         string `json:"collection"`
	DocumentsProcessed int    `json:"documents_processed"`
}

// Health is the body returned by GET /health.
type Health struct {
	Status       string `json:"status"`
	LLMURL       string `json:"llm_url"`
	EmbeddingURL string `json:"embedding_url"`
	RerankerURL  string `json:"reranker_url"`
	QdrantHost   string `json:"qdrant_host"`
}

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rag service returned %d: %s", e.StatusCode, e.Detail)
}

// Client calls the service API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends the key in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a Client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpclient.NewPooledClient(DefaultTimeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query asks a question.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	var resp QueryResponse
	if err := c.do(ctx, http.MethodPost, "/query", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ingest loads a server-side file or directory into a collection.
func (c *Client) Ingest(ctx context.Context, filePath, collection string) (*IngestResponse, error) {
	body := map[string]string{"file_path": filePath, "collection": collection}
	var resp IngestResponse
	if err := c.do(ctx, http.MethodPost, "/ingest", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Collections lists the collection names.
func (c *Client) Collections(ctx context.Context) ([]string, error) {
	var resp struct {
		Collections []string `json:"collections"`
	}
	if err := c.do(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Collections, nil
}

// Health returns the service's health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var resp Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &e) != nil || e.Detail == "" {
			e.Detail = strings.TrimSpace(string(data))
		}
		if e.Detail == "" {
			e.Detail = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Detail: e.Detail}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
