package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ferret-index/codelens/internal/output"
	"github.com/ferret-index/codelens/pkg/codelens"
)

func newClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear [path]",
		Short: "Drop all indexed state",
		Long:  `Remove every chunk and vector from the index, leaving an empty store.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runClear(cmd.Context(), cmd, path)
		},
	}
	return cmd
}

func runClear(ctx context.Context, cmd *cobra.Command, path string) error {
	engine, err := codelens.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to open workspace: %w", err)
	}
	defer func() { _ = engine.Close() }()

	if err := engine.Clear(ctx); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}

	output.New(cmd.OutOrStdout()).Successf("Cleared index for %s", engine.Root())
	return nil
}
