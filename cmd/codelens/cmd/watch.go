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

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Watch a directory and keep the index up to date",
		Long: `Watch the workspace for file changes and incrementally re-index,
remove, and re-graph affected files as they happen. Runs until interrupted
with Ctrl+C.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runWatch(ctx, cmd, path)
		},
	}
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, path string) error {
	engine, err := codelens.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to open workspace: %w", err)
	}
	defer func() { _ = engine.Close() }()

	if _, err := engine.IndexWorkspace(ctx, false); err != nil {
		return fmt.Errorf("initial index failed: %w", err)
	}

	output.New(cmd.OutOrStdout()).Statusf("👀", "Watching %s for changes (Ctrl+C to stop)...", engine.Root())
	return engine.Watch(ctx)
}
