package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ferret-index/codelens/internal/output"
	"github.com/ferret-index/codelens/pkg/codelens"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [path]",
		Short: "Migrate a legacy v1.2 state file into the chunk store",
		Long: `Opening a workspace already migrates any legacy .codelens-context-state.json
blob automatically: its chunks are grouped by path and committed into the
current chunk store and vector index via the normal add_file path, and the
blob is preserved as a timestamped .bak sidecar rather than deleted.

This command opens the workspace and reports that migration's result
without indexing anything else.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runMigrate(cmd.Context(), cmd, path)
		},
	}
	return cmd
}

func runMigrate(ctx context.Context, cmd *cobra.Command, path string) error {
	engine, err := codelens.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to open workspace: %w", err)
	}
	defer func() { _ = engine.Close() }()

	// Open already ran the migration once; LastMigration reports that run's
	// result rather than re-running it (the legacy blob, if any, has
	// already been renamed to its .bak sidecar by Open).
	result := engine.LastMigration()
	out := output.New(cmd.OutOrStdout())

	if result == nil {
		out.Status("", "No legacy state file found; nothing to migrate.")
		return nil
	}

	out.Successf("Migrated %d files (%d chunks), skipped %d files no longer on disk.",
		result.FilesMigrated, result.ChunksMigrated, result.FilesSkipped)
	return nil
}
