package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ferret-index/codelens/internal/output"
	"github.com/ferret-index/codelens/pkg/codelens"
)

func newIndexCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory for searching",
		Long: `Index a directory so it can be searched with 'codelens search'.

This scans files, chunks code and documents, generates embeddings, and
builds the vector index and knowledge graph used by retrieval.

Use --force to re-chunk and re-embed every file, even unchanged ones.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndex(ctx, cmd, path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-index every file, even unchanged ones")
	cmd.AddCommand(newIndexInfoCmd())

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string, force bool) error {
	engine, err := codelens.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to open workspace: %w", err)
	}
	defer func() { _ = engine.Close() }()

	stats, err := engine.IndexWorkspace(ctx, force)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	out := output.New(cmd.OutOrStdout())
	out.Successf("Indexed %d files (%d chunks written, %d skipped, %d errors)",
		stats.FilesIndexed, stats.ChunksWritten, stats.FilesSkipped, stats.Errors)
	if stats.Errors > 0 {
		out.Warningf("%d files failed to index; see logs for details", stats.Errors)
	}
	out.Status("", fmt.Sprintf("Workspace: %s", engine.Root()))

	return nil
}
