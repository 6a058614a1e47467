package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/fenwick-labs/sift/internal/config"
	"github.com/fenwick-labs/sift/internal/daemon"
	"github.com/fenwick-labs/sift/internal/indexer"
	"github.com/fenwick-labs/sift/internal/output"
	"github.com/fenwick-labs/sift/internal/query"
)

type queryOptions struct {
	topK       int
	index      string
	jsonOutput bool
	noExpand   bool
	typeFilter string
	local      bool
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run a hybrid query against an index",
		Long: `Run a hybrid (dense + BM25) query against an index.

Prefers a running daemon (so the embedder stays warm); falls back to a
one-shot local query when no daemon is reachable or --local is set.
When the daemon answers, only the query text, --top-k and --index are
sent: the daemon always expands and does not apply --no-expand or
--type.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVar(&opts.topK, "top-k", 10, "Number of direct matches to return")
	cmd.Flags().StringVar(&opts.index, "index", "", "Name of the index to query (defaults to the configured default)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the full QueryResult as JSON")
	cmd.Flags().BoolVar(&opts.noExpand, "no-expand", false, "Skip similarity-graph expansion")
	cmd.Flags().StringVar(&opts.typeFilter, "type", "", "Restrict results to a single source type tag")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Force a local one-shot query (bypass the daemon)")

	return cmd
}

func runQuery(cmd *cobra.Command, queryText string, opts queryOptions) error {
	out := output.New(cmd.OutOrStdout())

	if !cmd.Flags().Changed("json") {
		opts.jsonOutput = !isTerminalOut(cmd.OutOrStdout())
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	req := query.Request{
		QueryText:  queryText,
		TopK:       opts.topK,
		Expand:     !opts.noExpand,
		TypeFilter: opts.typeFilter,
	}

	client := daemonClient(cfg)
	if !opts.local && client.IsRunning() {
		return runQueryViaDaemon(cmd, client, out, req, opts)
	}
	return runQueryLocal(cmd, cfg, out, req, opts)
}

func runQueryViaDaemon(cmd *cobra.Command, client *daemon.Client, out *output.Writer, req query.Request, opts queryOptions) error {
	result, err := client.Query(req.QueryText, req.TopK, opts.index)
	if err != nil {
		return fmt.Errorf("daemon query failed: %w", err)
	}
	if opts.jsonOutput {
		return writeJSONResult(cmd, result)
	}
	printQueryResult(out, result.Query, result.Direct, result.Related)
	return nil
}

func runQueryLocal(cmd *cobra.Command, cfg *config.Config, out *output.Writer, req query.Request, opts queryOptions) error {
	embedder := buildEmbedder(cfg)
	defer embedder.Close()

	indexCfg := *cfg
	if opts.index != "" {
		path, ok := cfg.Indexes[opts.index]
		if !ok {
			return fmt.Errorf("unknown index %q", opts.index)
		}
		indexCfg.Storage.Path = path
	}

	ix, err := indexer.New(&indexCfg, embedder, slog.Default())
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer ix.Close()

	engine := query.New(&indexCfg, embedder, ix.Store, ix.Graph, ix.BM25)
	result, err := engine.Query(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	if opts.jsonOutput {
		return writeJSONResult(cmd, result)
	}
	printQueryResult(out, result.Query, result.Direct, result.Related)
	return nil
}

func writeJSONResult(cmd *cobra.Command, result any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func printQueryResult(out *output.Writer, q string, direct []query.DirectMatch, related []query.RelatedMatch) {
	out.Status("", fmt.Sprintf("Results for %q:", q))
	if len(direct) == 0 {
		out.Status("", "  (no direct matches)")
	}
	for _, m := range direct {
		line := "  " + m.Path
		if m.Lines != "" {
			line += ":" + m.Lines
		}
		line += "  score=" + strconv.FormatFloat(m.Score, 'f', 4, 64)
		if m.Type != "" {
			line += "  [" + m.Type + "]"
		}
		out.Status("", line)
	}
	if len(related) > 0 {
		out.Newline()
		out.Status("", "Related:")
		for _, m := range related {
			out.Status("", fmt.Sprintf("  %s  via=%s  weight=%.4f  depth=%d", m.Path, m.Via, m.EdgeWeight, m.Depth))
		}
	}
}

func daemonClient(cfg *config.Config) *daemon.Client {
	baseURL := fmt.Sprintf("http://%s:%d", cfg.Daemon.Host, cfg.Daemon.Port)
	return daemon.NewClient(baseURL, cfg.Daemon.Auth.APIKey)
}

// isTerminalOut reports whether w is an interactive terminal, so query
// defaults to human-readable output there and JSON otherwise (piped to
// another tool, redirected to a file, or run by an MCP-style caller).
func isTerminalOut(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
