// Package cmd provides the CLI commands for codelens.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ferret-index/codelens/internal/logging"
	"github.com/ferret-index/codelens/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the codelens CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codelens",
		Short: "Local-first code indexing and retrieval engine",
		Long: `codelens indexes a codebase into content-addressable chunks, builds a
vector index over their embeddings, and serves vector-similarity retrieval
augmented with a lightweight import/export knowledge graph.

It runs entirely locally with zero configuration required.`,
		Version:            version.Version,
		PersistentPreRunE:  startLogging,
		PersistentPostRunE: stopLogging,
	}

	cmd.SetVersionTemplate("codelens version {{.Version}}\n")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.codelens/logs/")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging wires a file-backed slog.Logger before any command runs, so
// indexing/search output stays on stdout while diagnostics go to the log
// file.
func startLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if debugMode {
		logCfg = logging.DebugConfig()
	}
	logCfg.WriteToStderr = false

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		// Logging is not critical to CLI correctness.
		return nil
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
