package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/fenwick-labs/sift/internal/indexmanager"
	"github.com/fenwick-labs/sift/internal/logging"
	"github.com/fenwick-labs/sift/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the query engine as an MCP tool surface over stdio",
		Long: `Expose "query" and "list_indexes" as MCP tools over stdio (spec
§4.16, A9), so MCP-aware assistants can search the same indexes as the
CLI and daemon.

Logging always goes to the log file at debug level, never to stdout or
stderr: stdout is reserved for the MCP protocol stream.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMCP(cmd)
		},
	}
}

func runMCP(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cleanup, err := logging.SetupMCPMode()
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer cleanup()

	manager := indexmanager.New(cfg, embedderFactory, slog.Default())

	server, err := mcp.NewServer(manager, slog.Default())
	if err != nil {
		return fmt.Errorf("build mcp server: %w", err)
	}

	return server.Serve(cmd.Context())
}
