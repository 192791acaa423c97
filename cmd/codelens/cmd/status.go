package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ferret-index/codelens/internal/output"
	"github.com/ferret-index/codelens/pkg/codelens"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show index health and status",
		Long: `Display information about the current index: file count, indexing
state, last index time, and whether the index is stale (a batch of watcher
changes has been received and is still being processed).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runStatus(cmd.Context(), cmd, path, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, path string, jsonOutput bool) error {
	engine, err := codelens.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to open workspace: %w", err)
	}
	defer func() { _ = engine.Close() }()

	st := engine.Status(ctx)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "Workspace:    %s\n", st.Workspace)
	_, _ = fmt.Fprintf(w, "State:        %s\n", st.State)
	_, _ = fmt.Fprintf(w, "Files:        %d\n", st.FileCount)
	_, _ = fmt.Fprintf(w, "Stale:        %t\n", st.IsStale)
	if !st.LastIndexed.IsZero() {
		_, _ = fmt.Fprintf(w, "Last indexed: %s\n", st.LastIndexed.Format("2006-01-02 15:04:05"))
	}
	if st.LastError != "" {
		output.New(w).Errorf("Last error: %s", st.LastError)
	}
	return nil
}
