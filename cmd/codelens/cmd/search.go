package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ferret-index/codelens/internal/output"
	"github.com/ferret-index/codelens/internal/retrieve"
	"github.com/ferret-index/codelens/pkg/codelens"
)

type searchOptions struct {
	limit       int
	format      string // "text", "json"
	expandGraph bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed codebase",
		Long: `Search the indexed codebase by embedding the query and ranking chunks
by vector similarity, optionally widened with the knowledge graph's
immediate neighbors of each hit.

Examples:
  codelens search "authentication middleware"
  codelens search "retry with backoff" --limit 5
  codelens search "error handling" --format json --expand`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.expandGraph, "expand", false, "Widen results with knowledge-graph neighbors")

	return cmd
}

// searchResult is one shaped hit in the JSON output.
type searchResult struct {
	Path    string  `json:"path"`
	Content string  `json:"content"`
	Score   float32 `json:"score"`
	Lines   string  `json:"lines"`
	Reason  string  `json:"reason"`
}

// searchEnvelope wraps JSON results with query metadata.
type searchEnvelope struct {
	Workspace    string         `json:"workspace"`
	LastIndexed  string         `json:"lastIndexed,omitempty"`
	QueryTimeMs  int64          `json:"queryTimeMs"`
	TotalResults int            `json:"totalResults"`
	Results      []searchResult `json:"results"`
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	engine, err := codelens.Open(ctx, ".")
	if err != nil {
		return fmt.Errorf("failed to open workspace: %w", err)
	}
	defer func() { _ = engine.Close() }()

	started := time.Now()
	results, err := engine.Retrieve(ctx, query, retrieve.Options{
		TopK:        opts.limit,
		ExpandGraph: opts.expandGraph,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	queryTime := time.Since(started)

	if opts.format == "json" {
		st := engine.Status(ctx)
		envelope := searchEnvelope{
			Workspace:    st.Workspace,
			QueryTimeMs:  queryTime.Milliseconds(),
			TotalResults: len(results),
			Results:      make([]searchResult, 0, len(results)),
		}
		if !st.LastIndexed.IsZero() {
			envelope.LastIndexed = st.LastIndexed.UTC().Format(time.RFC3339)
		}
		for _, r := range results {
			envelope.Results = append(envelope.Results, searchResult{
				Path: r.Path, Content: r.Content, Score: r.Score, Lines: r.Lines, Reason: r.Reason,
			})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(envelope)
	}

	return renderSearchResults(cmd, results)
}

func renderSearchResults(cmd *cobra.Command, results []retrieve.Result) error {
	w := cmd.OutOrStdout()
	if len(results) == 0 {
		output.New(w).Warning("No results found.")
		return nil
	}

	for i, r := range results {
		_, _ = fmt.Fprintf(w, "%d. %s:%s  (score %.3f, %s)\n", i+1, r.Path, r.Lines, r.Score, r.Reason)
		snippet := r.Content
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		_, _ = fmt.Fprintf(w, "   %s\n\n", strings.ReplaceAll(snippet, "\n", "\n   "))
	}
	return nil
}
