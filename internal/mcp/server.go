// Package mcp exposes the retrieval core as MCP tool calls over stdio
// (spec §4.16, A9), so MCP-aware clients can query the same index
// manager and query engine as the REST/WebSocket transports.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	apperrors "github.com/fenwick-labs/sift/internal/errors"
	"github.com/fenwick-labs/sift/internal/indexmanager"
	"github.com/fenwick-labs/sift/internal/query"
	"github.com/fenwick-labs/sift/pkg/version"
)

// Server bridges MCP clients to the index manager and query engine.
type Server struct {
	mcp     *mcp.Server
	manager *indexmanager.Manager
	logger  *slog.Logger
}

// QueryInput is the MCP tool input schema for "query".
type QueryInput struct {
	Query      string `json:"query" jsonschema:"natural-language query text"`
	TopK       int    `json:"top_k,omitempty" jsonschema:"number of direct matches to return, default 10, max 50"`
	Index      string `json:"index,omitempty" jsonschema:"name of the index to query, defaults to the daemon's default index"`
	Expand     *bool  `json:"expand,omitempty" jsonschema:"whether to expand results via the similarity graph, default true"`
	TypeFilter string `json:"type_filter,omitempty" jsonschema:"restrict results to a single source type tag"`
}

// QueryOutput is the MCP tool output schema for "query".
type QueryOutput struct {
	Query   string               `json:"query"`
	Direct  []query.DirectMatch  `json:"direct"`
	Related []query.RelatedMatch `json:"related"`
}

// ListIndexesInput is the (empty) MCP tool input schema for "list_indexes".
type ListIndexesInput struct{}

// ListIndexesOutput is the MCP tool output schema for "list_indexes".
type ListIndexesOutput struct {
	Indexes []string `json:"indexes"`
	Active  string   `json:"active"`
}

// NewServer constructs an MCP server wrapping the given index manager.
func NewServer(manager *indexmanager.Manager, logger *slog.Logger) (*Server, error) {
	if manager == nil {
		return nil, errors.New("index manager is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{manager: manager, logger: logger}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "sift",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()

	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query",
		Description: "Run a semantic query against an indexed codebase or document set, returning direct matches plus related files surfaced by similarity-graph expansion.",
	}, s.queryHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_indexes",
		Description: "List the names of every index registered with the daemon, and which one is currently active.",
	}, s.listIndexesHandler)

	s.logger.Debug("mcp tools registered", "count", 2)
}

func (s *Server) queryHandler(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (*mcp.CallToolResult, QueryOutput, error) {
	if input.Query == "" {
		return nil, QueryOutput{}, apperrors.InvalidRequestError("query must not be empty")
	}

	topK := input.TopK
	if topK <= 0 {
		topK = 10
	}
	if topK > 50 {
		return nil, QueryOutput{}, apperrors.InvalidRequestError("top_k must be at most 50")
	}
	expand := true
	if input.Expand != nil {
		expand = *input.Expand
	}

	loaded, err := s.manager.EnsureLoaded(ctx, input.Index)
	if err != nil {
		return nil, QueryOutput{}, err
	}

	result, err := loaded.Engine.Query(ctx, query.Request{
		QueryText:  input.Query,
		TopK:       topK,
		Expand:     expand,
		TypeFilter: input.TypeFilter,
	})
	if err != nil {
		return nil, QueryOutput{}, err
	}

	return nil, QueryOutput{Query: result.Query, Direct: result.Direct, Related: result.Related}, nil
}

func (s *Server) listIndexesHandler(_ context.Context, _ *mcp.CallToolRequest, _ ListIndexesInput) (*mcp.CallToolResult, ListIndexesOutput, error) {
	return nil, ListIndexesOutput{Indexes: s.manager.Names(), Active: s.manager.ActiveName()}, nil
}

// Serve runs the MCP server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting mcp server", "transport", "stdio")
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp server stopped with error", "error", err)
		return err
	}
	s.logger.Info("mcp server stopped")
	return nil
}
