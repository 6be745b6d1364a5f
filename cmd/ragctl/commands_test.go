package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeRAG(t *testing.T, gotQuery *map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"collections":["documents","manuals"]}`))
	})
	mux.HandleFunc("POST /query", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(gotQuery))
		_, _ = w.Write([]byte(`{"answer":"Paris.","reranked":true,"sources":[{"text":"Paris is the capital of France.","score":0.98,"metadata":{"file_name":"france.txt"}}]}`))
	})
	mux.HandleFunc("POST /ingest", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","collection":"manuals","documents_processed":4}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAskCommand(t *testing.T) {
	var got map[string]any
	server := newFakeRAG(t, &got)

	out, err := execute(t, "--server", server.URL, "ask", "-s", "fast", "What", "is", "the", "capital?")
	require.NoError(t, err)

	assert.Contains(t, out, "Paris.")
	assert.Contains(t, out, "**france.txt** (relevance: 0.98)")
	assert.Equal(t, "What is the capital?", got["question"])
	assert.Equal(t, float64(10), got["top_k"])
	assert.Equal(t, float64(3), got["rerank_top_n"])
}

func TestAskCommand_UnknownStrategy(t *testing.T) {
	_, err := execute(t, "--server", "http://127.0.0.1:1", "ask", "-s", "turbo", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "balanced, comprehensive, fast")
}

func TestQueryCommand(t *testing.T) {
	var got map[string]any
	server := newFakeRAG(t, &got)

	out, err := execute(t, "--server", server.URL, "query", "-q", "capital", "--top-k", "7", "--no-rerank", "--json")
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "Paris.", resp["answer"])

	assert.Equal(t, float64(7), got["top_k"])
	assert.Equal(t, false, got["use_reranker"])
	assert.NotContains(t, got, "rerank_top_n")
	assert.NotContains(t, got, "collection")
}

func TestIngestAndCollectionsCommands(t *testing.T) {
	var got map[string]any
	server := newFakeRAG(t, &got)

	out, err := execute(t, "--server", server.URL, "ingest", "/data/manuals", "-c", "manuals")
	require.NoError(t, err)
	assert.Equal(t, "Ingested 4 documents into manuals\n", out)

	out, err = execute(t, "--server", server.URL, "collections")
	require.NoError(t, err)
	assert.Equal(t, "documents\nmanuals\n", out)
}
