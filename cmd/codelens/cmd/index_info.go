package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ferret-index/codelens/pkg/codelens"
)

func newIndexInfoCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info [path]",
		Short: "Show index configuration and statistics",
		Long: `Display detailed information about the search index: indexing state,
file count, whether the index is stale, embedding provider and dimensions,
and any interrupted indexing run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndexInfo(cmd.Context(), cmd, path, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

// indexInfo is the JSON shape of 'index info'.
type indexInfo struct {
	Workspace   string `json:"workspace"`
	State       string `json:"state"`
	FileCount   int    `json:"file_count"`
	IsStale     bool   `json:"is_stale"`
	Dimensions  int    `json:"dimensions"`
	Provider    string `json:"provider"`
	Interrupted string `json:"interrupted,omitempty"`
}

func runIndexInfo(ctx context.Context, cmd *cobra.Command, path string, jsonOutput bool) error {
	engine, err := codelens.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to open workspace: %w", err)
	}
	defer func() { _ = engine.Close() }()

	st := engine.Status(ctx)
	cfg := engine.Config()

	info := indexInfo{
		Workspace:  st.Workspace,
		State:      string(st.State),
		FileCount:  st.FileCount,
		IsStale:    st.IsStale,
		Dimensions: cfg.Embeddings.Dimensions,
		Provider:   cfg.Embeddings.Provider,
	}
	if cp, err := engine.IndexCheckpoint(ctx); err == nil && cp != nil {
		info.Interrupted = fmt.Sprintf("%s (%d files processed)", cp.Stage, cp.Processed)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Workspace:  %s\n", info.Workspace)
	_, _ = fmt.Fprintf(out, "State:      %s\n", info.State)
	_, _ = fmt.Fprintf(out, "Files:      %d\n", info.FileCount)
	_, _ = fmt.Fprintf(out, "Stale:      %t\n", info.IsStale)
	_, _ = fmt.Fprintf(out, "Provider:   %s\n", info.Provider)
	_, _ = fmt.Fprintf(out, "Dimensions: %d\n", info.Dimensions)
	if info.Interrupted != "" {
		_, _ = fmt.Fprintf(out, "Interrupted: %s\n", info.Interrupted)
	}
	return nil
}
