// Package indexer orchestrates scan, diff, embed, and persist for one
// named index (spec §4.5, C6), grounded on gundog's _indexer.py.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/fenwick-labs/sift/internal/chunk"
	"github.com/fenwick-labs/sift/internal/config"
	"github.com/fenwick-labs/sift/internal/embed"
	apperrors "github.com/fenwick-labs/sift/internal/errors"
	"github.com/fenwick-labs/sift/internal/gitignore"
	"github.com/fenwick-labs/sift/internal/graph"
	"github.com/fenwick-labs/sift/internal/store"
)

// sensitiveExcludes are always excluded from every source, regardless of
// config, so credential-bearing files never get embedded and shipped to
// an external model (a safety default beyond spec's explicit contract).
var sensitiveExcludes = []string{
	"**/.env", "**/.env.*",
	"**/*.pem", "**/*.key",
	"**/*credentials*", "**/*secret*",
	"**/.git/**", "**/node_modules/**",
}

// Summary reports the outcome of one indexing pass (spec §4.5).
type Summary struct {
	FilesTotal    int
	FilesIndexed  int
	FilesSkipped  int
	FilesRemoved  int
	ChunksIndexed int
}

// fileRecord is a transient per-scan record (spec §3's FileRecord).
type fileRecord struct {
	path    string
	typeTag string
}

// Indexer owns one named index's store, graph, and BM25 artifacts and
// drives the scan -> diff -> select -> embed -> upsert -> rebuild ->
// persist pipeline.
type Indexer struct {
	cfg      *config.Config
	embedder embed.Embedder
	dir      string

	Store *store.VectorStore
	Graph *graph.Graph
	BM25  *store.BM25Index

	logger *slog.Logger
}

func artifactPaths(dir string) (storePath, graphPath, bm25Path string) {
	return filepath.Join(dir, "store.gob"), filepath.Join(dir, "graph.json"), filepath.Join(dir, "bm25.gob")
}

// New constructs an Indexer rooted at cfg.Storage.Path, loading any
// existing artifacts found there. A missing artifact is not an error (an
// empty index is a valid starting state); a present-but-corrupt artifact
// is CORRUPT_ARTIFACT.
func New(cfg *config.Config, embedder embed.Embedder, logger *slog.Logger) (*Indexer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := cfg.Storage.Path
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.IOFailureError(err).WithDetail("path", dir)
	}

	storePath, graphPath, bm25Path := artifactPaths(dir)

	vs := store.NewVectorStore(cfg.Embedding.Dimensions)
	if err := loadIfPresent(storePath, vs.Load); err != nil {
		return nil, apperrors.CorruptArtifactError(storePath, err)
	}

	g := graph.New(cfg.Graph.SimilarityThreshold, cfg.Graph.KNeighbors)
	if err := loadIfPresent(graphPath, g.Load); err != nil {
		return nil, apperrors.CorruptArtifactError(graphPath, err)
	}

	bm := store.NewBM25Index()
	if err := loadIfPresent(bm25Path, bm.Load); err != nil {
		return nil, apperrors.CorruptArtifactError(bm25Path, err)
	}

	return &Indexer{
		cfg:      cfg,
		embedder: embedder,
		dir:      dir,
		Store:    vs,
		Graph:    g,
		BM25:     bm,
		logger:   logger,
	}, nil
}

func loadIfPresent(path string, load func(string) error) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return load(path)
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// scanSource walks one source's root for files matching its glob,
// excluding sensitive patterns, the source's own excludes, and (unless
// opted out) anything its tree's .gitignore files mark as ignored.
func scanSource(source config.SourceSpec) ([]fileRecord, error) {
	info, err := os.Stat(source.RootPath)
	if err != nil || !info.IsDir() {
		return nil, nil
	}

	excludes := config.ExcludesForSource(source, sensitiveExcludes)

	var gitMatcher *gitignore.Matcher
	if !source.GitignoreDisabled {
		gitMatcher = loadGitignoreMatcher(source.RootPath)
	}

	pattern := source.Glob
	if pattern == "" {
		pattern = "**/*"
	}

	var records []fileRecord
	err = doublestar.GlobWalk(os.DirFS(source.RootPath), pattern, func(relPath string, d os.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		if isExcluded(relPath, excludes) {
			return nil
		}
		if gitMatcher != nil && gitMatcher.Match(relPath, false) {
			return nil
		}
		records = append(records, fileRecord{
			path:    filepath.Join(source.RootPath, relPath),
			typeTag: source.TypeTag,
		})
		return nil
	})
	if err != nil {
		return nil, apperrors.IOFailureError(err).WithDetail("source", source.RootPath)
	}
	return records, nil
}

// loadGitignoreMatcher pre-walks a source's tree for every .gitignore
// file and loads them into one Matcher, each scoped to its own
// directory (spec supplement: nested .gitignore files only apply to
// their own subtree). Walked separately from the glob pass so matcher
// construction doesn't depend on doublestar's traversal order.
func loadGitignoreMatcher(rootPath string) *gitignore.Matcher {
	m := gitignore.New()
	_ = filepath.WalkDir(rootPath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Name() != ".gitignore" {
			return nil
		}
		rel, relErr := filepath.Rel(rootPath, filepath.Dir(path))
		if relErr != nil {
			return nil
		}
		base := filepath.ToSlash(rel)
		if base == "." {
			base = ""
		}
		_ = m.AddFromFile(path, base)
		return nil
	})
	return m
}

func isExcluded(relPath string, excludes []string) bool {
	for _, pattern := range excludes {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
		// Also match against the bare filename for non-glob patterns like
		// "*credentials*" applied without a directory prefix.
		if ok, _ := doublestar.Match(pattern, filepath.Base(relPath)); ok {
			return true
		}
	}
	return false
}

// needsReindex applies the mtime-then-hash staleness check (spec §9
// resolution: trust mtime first, fall back to content hash only when
// mtime indicates a possible change).
func (ix *Indexer) needsReindex(path string, info os.FileInfo, content *string) (bool, error) {
	entry, ok := ix.lookupExisting(path)
	if !ok {
		return true, nil
	}

	mtime := float64(info.ModTime().UnixNano()) / 1e9
	if entry.Meta.MTime == mtime {
		return false, nil
	}

	if *content == "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return false, err
		}
		*content = string(raw)
	}
	return hashContent(*content) != entry.Meta.ContentHash, nil
}

func (ix *Indexer) lookupExisting(path string) (store.StoreEntry, bool) {
	if e, ok := ix.Store.Get(store.ChunkID(path)); ok {
		return e, true
	}
	if ix.cfg.Chunking.Enabled {
		if e, ok := ix.Store.Get(store.NewChunkID(path, 0)); ok {
			return e, true
		}
	}
	return store.StoreEntry{}, false
}

type embedItem struct {
	id         store.ChunkID
	text       string
	path       string
	typeTag    string
	startLine  int
	endLine    int
	chunkText  string
	isChunked  bool
}

// Index runs one indexing pass: scan all sources, remove entries whose
// parent file vanished, select new/changed files, embed and upsert them,
// and conditionally rebuild the graph and BM25 index (spec §4.5).
func (ix *Indexer) Index(ctx context.Context, rebuild bool) (Summary, error) {
	var summary Summary

	allFiles := make(map[string]fileRecord)
	for _, source := range ix.cfg.Sources {
		records, err := scanSource(source)
		if err != nil {
			return summary, err
		}
		for _, r := range records {
			allFiles[r.path] = r
		}
	}
	summary.FilesTotal = len(allFiles)

	removed := ix.removeVanished(allFiles)
	summary.FilesRemoved = removed

	var toIndex []fileRecord
	for path, rec := range allFiles {
		info, err := os.Stat(path)
		if err != nil {
			ix.logger.Warn("could not stat file, skipping", "path", path, "error", err)
			continue
		}
		var content string
		stale, err := ix.needsReindex(path, info, &content)
		if err != nil {
			ix.logger.Warn("could not read file, skipping", "path", path, "error", err)
			continue
		}
		if rebuild || stale {
			toIndex = append(toIndex, rec)
		} else {
			summary.FilesSkipped++
		}
	}
	summary.FilesIndexed = len(toIndex)

	if len(toIndex) > 0 {
		if err := ix.embedAndUpsert(ctx, toIndex, &summary); err != nil {
			return summary, err
		}
	}

	needsRebuild := rebuild || summary.FilesIndexed > 0 || summary.FilesRemoved > 0
	if needsRebuild {
		ix.logger.Info("rebuilding similarity graph")
		ix.Graph = graph.Build(ix.Store.AllVectors(), ix.cfg.Graph.SimilarityThreshold, ix.cfg.Graph.KNeighbors)

		if ix.cfg.Hybrid.Enabled {
			ix.logger.Info("rebuilding bm25 index")
			ix.BM25.Index(ix.bm25Docs())
		}

		if err := ix.persist(); err != nil {
			return summary, err
		}
	} else {
		ix.logger.Info("no changes, skipping graph/bm25 rebuild")
	}

	return summary, nil
}

// removeVanished deletes every store entry whose parent file is no
// longer present among the freshly scanned files.
func (ix *Indexer) removeVanished(allFiles map[string]fileRecord) int {
	removed := 0
	for _, id := range ix.Store.AllIDs() {
		parent := id.ParentFile()
		if _, ok := allFiles[parent]; !ok {
			ix.Store.Delete(id)
			removed++
		}
	}
	return removed
}

func (ix *Indexer) embedAndUpsert(ctx context.Context, toIndex []fileRecord, summary *Summary) error {
	var items []embedItem

	for _, rec := range toIndex {
		content, err := os.ReadFile(rec.path)
		if err != nil {
			ix.logger.Warn("could not read file, skipping", "path", rec.path, "error", err)
			continue
		}
		text := string(content)

		if ix.cfg.Chunking.Enabled {
			for _, existing := range ix.Store.AllIDs() {
				if existing.ParentFile() == rec.path {
					ix.Store.Delete(existing)
				}
			}

			chunks := chunk.ChunkText(rec.path, text, ix.cfg.Chunking.MaxTokens, ix.cfg.Chunking.OverlapTokens)
			for _, c := range chunks {
				items = append(items, embedItem{
					id:        c.ID(),
					text:      chunk.EmbeddingInput(rec.path, c.ChunkIndex, len(chunks), c.Text),
					path:      rec.path,
					typeTag:   rec.typeTag,
					startLine: c.StartLine,
					endLine:   c.EndLine,
					chunkText: c.Text,
					isChunked: true,
				})
			}
		} else {
			items = append(items, embedItem{
				id:      store.ChunkID(rec.path),
				text:    chunk.WholeFileEmbeddingInput(rec.path, text),
				path:    rec.path,
				typeTag: rec.typeTag,
			})
		}
	}

	if len(items) == 0 {
		return nil
	}

	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.text
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return apperrors.EmbedderFailureError(err)
	}
	if len(vectors) != len(items) {
		return apperrors.EmbedderFailureError(fmt.Errorf("embedder returned %d vectors for %d inputs", len(vectors), len(items)))
	}

	for i, item := range items {
		content, err := os.ReadFile(item.path)
		if err != nil {
			ix.logger.Warn("could not re-read file for metadata, skipping", "path", item.path, "error", err)
			continue
		}
		info, err := os.Stat(item.path)
		if err != nil {
			ix.logger.Warn("could not stat file for metadata, skipping", "path", item.path, "error", err)
			continue
		}

		vec := vectors[i]
		store.NormalizeInPlace(vec)

		meta := store.EntryMeta{
			TypeTag:     item.typeTag,
			MTime:       float64(info.ModTime().UnixNano()) / 1e9,
			ContentHash: hashContent(string(content)),
			ChunkIndex:  -1,
		}
		if item.isChunked {
			_, chunkIdx, _ := item.id.Parse()
			meta.ParentFile = item.path
			meta.ChunkIndex = chunkIdx
			meta.StartLine = item.startLine
			meta.EndLine = item.endLine
			meta.ChunkText = item.chunkText
		} else {
			meta.ParentFile = item.path
			meta.ChunkText = string(content)
		}

		if err := ix.Store.Upsert(item.id, vec, meta); err != nil {
			ix.logger.Warn("could not upsert entry, skipping", "id", string(item.id), "error", err)
			continue
		}
		summary.ChunksIndexed++
	}

	return nil
}

// bm25Docs rebuilds the BM25 document set from cached chunk text in the
// vector store (spec §9 Open Question #2), avoiding a redundant
// read-and-rechunk pass over every source file.
func (ix *Indexer) bm25Docs() []store.BM25Doc {
	ids := ix.Store.AllIDs()
	docs := make([]store.BM25Doc, 0, len(ids))
	for _, id := range ids {
		entry, ok := ix.Store.Get(id)
		if !ok {
			continue
		}
		text := entry.Meta.ChunkText
		if text == "" {
			content, err := os.ReadFile(entry.Meta.ParentFile)
			if err != nil {
				content, err = os.ReadFile(id.ParentFile())
				if err != nil {
					continue
				}
			}
			text = string(content)
		}
		docs = append(docs, store.BM25Doc{
			ID:     id,
			Tokens: store.Tokens(string(id.ParentFile()) + "\n" + text),
		})
	}
	return docs
}

func (ix *Indexer) persist() error {
	storePath, graphPath, bm25Path := artifactPaths(ix.dir)

	if err := ix.Store.Save(storePath); err != nil {
		return apperrors.IOFailureError(err).WithDetail("path", storePath)
	}
	if err := ix.Graph.Save(graphPath); err != nil {
		return apperrors.IOFailureError(err).WithDetail("path", graphPath)
	}
	if ix.cfg.Hybrid.Enabled {
		if err := ix.BM25.Save(bm25Path); err != nil {
			return apperrors.IOFailureError(err).WithDetail("path", bm25Path)
		}
	}
	return nil
}

// Close releases the indexer's resources.
func (ix *Indexer) Close() error {
	return ix.Store.Close()
}
