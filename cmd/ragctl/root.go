package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/knoguchi/rerank-rag/internal/client"
	"github.com/knoguchi/rerank-rag/internal/httpclient"
)

type globalFlags struct {
	server  string
	apiKey  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "ragctl",
		Short: "Query and manage a ragd RAG service",
		Long: `ragctl is a command line client for ragd. It asks questions against a
collection, ingests files, and reports service health.

Example usage:
  ragctl ask "What is the capital of France?"
  ragctl query -q "refund policy" -c policies --json
  ragctl ingest /data/manuals -c manuals
  ragctl collections`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&g.server, "server", envOr("RAG_API_URL", "http://localhost:8000"), "ragd base URL")
	root.PersistentFlags().StringVar(&g.apiKey, "api-key", os.Getenv("RAG_API_KEY"), "API key sent as X-API-Key")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", client.DefaultTimeout, "request timeout")

	root.AddCommand(
		newAskCmd(g),
		newQueryCmd(g),
		newIngestCmd(g),
		newCollectionsCmd(g),
		newHealthCmd(g),
	)
	return root
}

func (g *globalFlags) client() *client.Client {
	opts := []client.Option{client.WithHTTPClient(httpclient.NewPooledClient(g.timeout))}
	if g.apiKey != "" {
		opts = append(opts, client.WithAPIKey(g.apiKey))
	}
	return client.New(g.server, opts...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
