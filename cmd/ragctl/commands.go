package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knoguchi/rerank-rag/internal/client"
)

func newAskCmd(g *globalFlags) *cobra.Command {
	var (
		collection string
		strategy   string
		noRerank   bool
		noSources  bool
		minScore   float64
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question and print a formatted answer",
		Long: `Ask checks that the collection exists, sends the question and prints
the answer with its sources.

Strategies: fast (10/3), balanced (20/5), comprehensive (30/10).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			preset, ok := client.Strategies[strategy]
			if !ok {
				return fmt.Errorf("unknown strategy %q (want one of %s)",
					strategy, strings.Join(slices.Sorted(maps.Keys(client.Strategies)), ", "))
			}

			opts := client.AskOptions{
				Collection:     collection,
				UseReranker:    !noRerank,
				Strategy:       preset,
				IncludeSources: !noSources,
				MinSourceScore: minScore,
			}
			out := g.client().Ask(cmd.Context(), strings.Join(args, " "), opts)
			_, err := fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}

	defaults := client.DefaultAskOptions()
	cmd.Flags().StringVarP(&collection, "collection", "c", defaults.Collection, "collection to search")
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "balanced", "retrieval strategy")
	cmd.Flags().BoolVar(&noRerank, "no-rerank", false, "skip the reranker")
	cmd.Flags().BoolVar(&noSources, "no-sources", false, "omit the source list")
	cmd.Flags().Float64Var(&minScore, "min-score", defaults.MinSourceScore, "hide sources scoring below this")
	return cmd
}

func newQueryCmd(g *globalFlags) *cobra.Command {
	var (
		question   string
		collection string
		topK       int
		rerankTopN int
		noRerank   bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Send a raw query and print the response",
		Long: `Query calls POST /query. Unset --top-k and --rerank-top-n use the
server defaults.

Examples:
  ragctl query -q "refund policy"
  ragctl query -q "install steps" -c manuals --top-k 30 --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := client.QueryRequest{Question: question, Collection: collection}
			if cmd.Flags().Changed("top-k") {
				req.TopK = &topK
			}
			if cmd.Flags().Changed("rerank-top-n") {
				req.RerankTopN = &rerankTopN
			}
			if noRerank {
				use := false
				req.UseReranker = &use
			}

			resp, err := g.client().Query(cmd.Context(), req)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), client.Format(resp, true, 0))
			return err
		},
	}

	cmd.Flags().StringVarP(&question, "query", "q", "", "question (required)")
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "collection (default from server)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "candidates to retrieve")
	cmd.Flags().IntVarP(&rerankTopN, "rerank-top-n", "n", 0, "sources to keep after reranking")
	cmd.Flags().BoolVar(&noRerank, "no-rerank", false, "skip the reranker")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func newIngestCmd(g *globalFlags) *cobra.Command {
	var collection string

	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Ingest a server-side file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := g.client().Ingest(cmd.Context(), args[0], collection)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d documents into %s\n",
				resp.DocumentsProcessed, resp.Collection)
			return err
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "target collection (default from server)")
	return cmd
}

func newCollectionsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := g.client().Collections(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newHealthCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show service health and backend endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := g.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), h)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
