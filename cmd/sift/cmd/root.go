// Package cmd provides the sift CLI commands (spec §4.14, A7).
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fenwick-labs/sift/internal/config"
	"github.com/fenwick-labs/sift/internal/logging"
	"github.com/fenwick-labs/sift/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the sift CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sift",
		Short: "Local-first hybrid retrieval over your codebase",
		Long: `sift indexes a set of local directories and serves hybrid
(dense + BM25) search over them, either directly from the CLI, from a
background daemon over REST/WebSocket, or as an MCP tool surface for
AI coding assistants.`,
		Version: version.Version,
	}

	cmd.SetVersionTemplate("sift version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.sift/logs/")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newIndexesCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("set up debug logging: %w", err)
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

// loadConfig loads and validates configuration rooted at the current
// working directory (spec §4.8 precedence).
func loadConfig() (*config.Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	return config.Load(dir)
}
