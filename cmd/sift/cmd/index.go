package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/fenwick-labs/sift/internal/config"
	"github.com/fenwick-labs/sift/internal/embed"
	"github.com/fenwick-labs/sift/internal/indexer"
	"github.com/fenwick-labs/sift/internal/output"
	"github.com/fenwick-labs/sift/internal/preflight"
)

func newIndexCmd() *cobra.Command {
	var rebuild bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the configured sources",
		Long: `Scan every configured source, embed and store what changed, and
rebuild the similarity graph and BM25 index if anything did.

Without --rebuild, unchanged files are skipped (mtime-then-content-hash
staleness check).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd, rebuild)
		},
	}

	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Force re-embedding of every source, even unchanged files")
	return cmd
}

func runIndex(cmd *cobra.Command, rebuild bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := runPreflight(cmd, out, cfg); err != nil {
		return err
	}

	embedder := buildEmbedder(cfg)
	defer embedder.Close()

	ix, err := indexer.New(cfg, embedder, slog.Default())
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer ix.Close()

	out.Status("", fmt.Sprintf("Indexing %s ...", cfg.Storage.Path))

	summary, err := ix.Index(cmd.Context(), rebuild)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}

	out.Success(fmt.Sprintf("Indexed %d/%d files (%d skipped, %d removed), %d chunks",
		summary.FilesIndexed, summary.FilesTotal, summary.FilesSkipped, summary.FilesRemoved, summary.ChunksIndexed))
	return nil
}

// runPreflight validates the environment before an index run: disk space,
// memory, write permissions, file descriptor limits, and whether the
// embedding endpoint answers. Results are cached in the index directory via
// a marker file so a healthy environment isn't re-checked on every run.
// Only a required-and-failed check aborts indexing.
func runPreflight(cmd *cobra.Command, out *output.Writer, cfg *config.Config) error {
	if !preflight.NeedsCheck(cfg.Storage.Path) {
		return nil
	}

	checker := preflight.New(preflight.WithOutput(cmd.ErrOrStderr()))
	results := checker.RunAll(cmd.Context(), cfg.Storage.Path, cfg.Embedding.BaseURL)

	for _, r := range results {
		if r.Status == preflight.StatusWarn {
			out.Warning(fmt.Sprintf("%s: %s", r.Name, r.Message))
		}
	}

	if checker.HasCriticalFailures(results) {
		for _, r := range results {
			if r.IsCritical() {
				out.Error(fmt.Sprintf("%s: %s", r.Name, r.Message))
			}
		}
		return fmt.Errorf("preflight checks failed, see above")
	}

	return preflight.MarkPassed(cfg.Storage.Path)
}

// buildEmbedder wraps the configured HTTP embedding endpoint with the
// content-addressed cache (A4).
func buildEmbedder(cfg *config.Config) embed.Embedder {
	return embed.NewCachedEmbedder(embed.NewHTTPEmbedder(cfg.Embedding), cfg.Embedding.CacheSize)
}
