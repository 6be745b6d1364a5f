package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/rerank-rag/internal/ingestion"
	"github.com/knoguchi/rerank-rag/internal/llm"
	"github.com/knoguchi/rerank-rag/internal/pipeline"
	"github.com/knoguchi/rerank-rag/internal/reranker"
	"github.com/knoguchi/rerank-rag/internal/retriever"
	"github.com/knoguchi/rerank-rag/internal/vectorstore"
)

type fakeQuery struct {
	resp *pipeline.Response
	err  error
	got  pipeline.Request
}

func (f *fakeQuery) Query(_ context.Context, req pipeline.Request) (*pipeline.Response, error) {
	f.got = req
	return f.resp, f.err
}

type fakeIngester struct {
	err            error
	gotPath        string
	gotCollection  string
	documentsCount int
}

func (f *fakeIngester) Ingest(_ context.Context, path, collection string) (*ingestion.Result, error) {
	f.gotPath, f.gotCollection = path, collection
	if f.err != nil {
		return nil, f.err
	}
	return &ingestion.Result{Collection: collection, DocumentsProcessed: f.documentsCount}, nil
}

type fakeCollections struct {
	names   []string
	listErr error
	pingErr error
}

func (f *fakeCollections) ListCollections(context.Context) ([]string, error) {
	return f.names, f.listErr
}

func (f *fakeCollections) Ping(context.Context) error { return f.pingErr }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Port:              8000,
		DefaultCollection: "documents",
		Dependencies: Dependencies{
			LLMURL:       "http://vllm:8000/v1",
			EmbeddingURL: "http://tei-embed:80/v1",
			RerankerURL:  "http://tei-rerank:80/rerank",
			QdrantHost:   "qdrant-service:6334",
		},
		Logger: quietLogger(),
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestQuery_Success(t *testing.T) {
	q := &fakeQuery{resp: &pipeline.Response{
		Answer:   "Paris.",
		Sources:  []pipeline.Source{{Text: "Paris is the capital of France.", Score: 0.95, Metadata: map[string]any{"file_name": "france.txt"}}},
		Reranked: true,
	}}
	srv := New(testConfig(), q, &fakeIngester{}, &fakeCollections{})

	rec := do(t, srv.Handler(), http.MethodPost, "/query",
		`{"question":"What is the capital of France?","collection":"documents","use_reranker":true,"top_k":20,"rerank_top_n":2}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{
		"answer": "Paris.",
		"sources": [{"text": "Paris is the capital of France.", "score": 0.95, "metadata": {"file_name": "france.txt"}}],
		"reranked": true
	}`, rec.Body.String())

	assert.Equal(t, "What is the capital of France?", q.got.Question)
	assert.Equal(t, "documents", q.got.Collection)
	require.NotNil(t, q.got.UseReranker)
	assert.True(t, *q.got.UseReranker)
	require.NotNil(t, q.got.TopK)
	assert.Equal(t, 20, *q.got.TopK)
	require.NotNil(t, q.got.RerankTopN)
	assert.Equal(t, 2, *q.got.RerankTopN)
}

func TestQuery_OmittedOverridesStayNil(t *testing.T) {
	q := &fakeQuery{resp: &pipeline.Response{Sources: []pipeline.Source{}}}
	srv := New(testConfig(), q, &fakeIngester{}, &fakeCollections{})

	rec := do(t, srv.Handler(), http.MethodPost, "/query", `{"question":"hi","top_k":null}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, q.got.TopK)
	assert.Nil(t, q.got.RerankTopN)
	assert.Nil(t, q.got.UseReranker)
}

func TestQuery_InvalidBody(t *testing.T) {
	srv := New(testConfig(), &fakeQuery{}, &fakeIngester{}, &fakeCollections{})

	rec := do(t, srv.Handler(), http.MethodPost, "/query", `{"question":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"detail"`)
}

func TestQuery_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "invalid", err: fmt.Errorf("%w: question is required", pipeline.ErrInvalidQuery), status: http.StatusBadRequest},
		{name: "collection missing", err: fmt.Errorf("%w: nope", retriever.ErrCollectionNotFound), status: http.StatusNotFound},
		{name: "vector store down", err: fmt.Errorf("%w: dial", retriever.ErrRetrievalUnavailable), status: http.StatusServiceUnavailable},
		{name: "generation", err: fmt.Errorf("%w: overloaded", pipeline.ErrGeneration), status: http.StatusBadGateway},
		{name: "other", err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(testConfig(), &fakeQuery{err: tt.err}, &fakeIngester{}, &fakeCollections{})

			rec := do(t, srv.Handler(), http.MethodPost, "/query", `{"question":"q"}`)

			assert.Equal(t, tt.status, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.err.Error(), body["detail"])
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("x: %w", ingestion.ErrPathNotFound)))
	assert.Equal(t, http.StatusBadRequest, statusFor(ingestion.ErrNoDocuments))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(fmt.Errorf("list: %w", vectorstore.ErrUnavailable)))
	assert.Equal(t, http.StatusNotFound, statusFor(vectorstore.ErrCollectionNotFound))
}

func TestIngest(t *testing.T) {
	ing := &fakeIngester{documentsCount: 4}
	srv := New(testConfig(), &fakeQuery{}, ing, &fakeCollections{})

	rec := do(t, srv.Handler(), http.MethodPost, "/ingest", `{"file_path":"/data/docs","collection":"manuals"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success","collection":"manuals","documents_processed":4}`, rec.Body.String())
	assert.Equal(t, "/data/docs", ing.gotPath)
	assert.Equal(t, "manuals", ing.gotCollection)
}

func TestIngest_DefaultCollection(t *testing.T) {
	ing := &fakeIngester{documentsCount: 1}
	srv := New(testConfig(), &fakeQuery{}, ing, &fakeCollections{})

	rec := do(t, srv.Handler(), http.MethodPost, "/ingest", `{"file_path":"/data/a.txt"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "documents", ing.gotCollection)
}

func TestIngest_Errors(t *testing.T) {
	srv := New(testConfig(), &fakeQuery{}, &fakeIngester{}, &fakeCollections{})
	rec := do(t, srv.Handler(), http.MethodPost, "/ingest", `{"collection":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	srv = New(testConfig(), &fakeQuery{}, &fakeIngester{err: fmt.Errorf("%w: /nope", ingestion.ErrPathNotFound)}, &fakeCollections{})
	rec = do(t, srv.Handler(), http.MethodPost, "/ingest", `{"file_path":"/nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCollections(t *testing.T) {
	srv := New(testConfig(), &fakeQuery{}, &fakeIngester{}, &fakeCollections{names: []string{"documents", "manuals"}})
	rec := do(t, srv.Handler(), http.MethodGet, "/collections", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"collections":["documents","manuals"]}`, rec.Body.String())

	srv = New(testConfig(), &fakeQuery{}, &fakeIngester{}, &fakeCollections{})
	rec = do(t, srv.Handler(), http.MethodGet, "/collections", "")
	assert.JSONEq(t, `{"collections":[]}`, rec.Body.String())

	srv = New(testConfig(), &fakeQuery{}, &fakeIngester{}, &fakeCollections{listErr: fmt.Errorf("list: %w", vectorstore.ErrUnavailable)})
	rec = do(t, srv.Handler(), http.MethodGet, "/collections", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	srv := New(testConfig(), &fakeQuery{}, &fakeIngester{}, &fakeCollections{})

	rec := do(t, srv.Handler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"status": "healthy",
		"llm_url": "http://vllm:8000/v1",
		"embedding_url": "http://tei-embed:80/v1",
		"reranker_url": "http://tei-rerank:80/rerank",
		"qdrant_host": "qdrant-service:6334"
	}`, rec.Body.String())

	rec = do(t, srv.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv.Handler(), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	down := New(testConfig(), &fakeQuery{}, &fakeIngester{}, &fakeCollections{pingErr: errors.New("connection refused")})
	rec = do(t, down.Handler(), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIKeyProtectsRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = "s3cret"
	srv := New(cfg, &fakeQuery{resp: &pipeline.Response{Sources: []pipeline.Source{}}}, &fakeIngester{}, &fakeCollections{})

	assert.Equal(t, http.StatusUnauthorized, do(t, srv.Handler(), http.MethodPost, "/query", `{"question":"q"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, srv.Handler(), http.MethodGet, "/collections", "").Code)
	assert.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodPost, "/query", `{"question":"q"}`, "X-API-Key", "s3cret").Code)
	assert.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/health", "").Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 2
	srv := New(cfg, &fakeQuery{resp: &pipeline.Response{Sources: []pipeline.Source{}}}, &fakeIngester{}, &fakeCollections{})
	t.Cleanup(srv.limiter.Stop)

	for range 2 {
		assert.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodPost, "/query", `{"question":"q"}`).Code)
	}
	rec := do(t, srv.Handler(), http.MethodPost, "/query", `{"question":"q"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")

	assert.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/health", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"http://chat.local"}
	srv := New(cfg, &fakeQuery{}, &fakeIngester{}, &fakeCollections{})

	rec := do(t, srv.Handler(), http.MethodOptions, "/query", "", "Origin", "http://chat.local")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://chat.local", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, srv.Handler(), http.MethodOptions, "/query", "", "Origin", "http://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

type scenarioRetriever struct{}

func (scenarioRetriever) Retrieve(context.Context, retriever.Query) ([]retriever.Candidate, error) {
	return []retriever.Candidate{
		{Content: "Paris is the capital of France.", Score: 0.9, Metadata: map[string]any{"file_name": "a.txt"}},
		{Content: "Lyon is in France.", Score: 0.85, Metadata: map[string]any{"file_name": "b.txt"}},
		{Content: "France's capital city is Paris.", Score: 0.7, Metadata: map[string]any{"file_name": "c.txt"}},
	}, nil
}

type scenarioGenerator struct{}

func (scenarioGenerator) Generate(context.Context, string, llm.GenerateOptions) (string, error) {
	return "Paris.", nil
}

func TestQuery_EndToEndWithReranker(t *testing.T) {
	rerankServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"index":2,"relevance_score":0.95},{"document_index":0,"relevance_score":0.88}]`))
	}))
	defer rerankServer.Close()

	rr := reranker.NewClient(reranker.ClientConfig{URL: rerankServer.URL, Model: "bge-reranker", Logger: quietLogger()})
	svc := pipeline.NewService(scenarioRetriever{}, scenarioGenerator{}, pipeline.DefaultSettings(),
		pipeline.WithReranker(rr), pipeline.WithLogger(quietLogger()))
	srv := New(testConfig(), svc, &fakeIngester{}, &fakeCollections{})

	rec := do(t, srv.Handler(), http.MethodPost, "/query", `{"question":"What is the capital of France?","collection":"documents","rerank_top_n":2}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"answer": "Paris.",
		"sources": [
			{"text": "France's capital city is Paris.", "score": 0.95, "metadata": {"file_name": "c.txt"}},
			{"text": "Paris is the capital of France.", "score": 0.88, "metadata": {"file_name": "a.txt"}}
		],
		"reranked": true
	}`, rec.Body.String())

	rec = do(t, srv.Handler(), http.MethodPost, "/query", `{"question":"q","rerank_top_n":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
