// Package query implements the two-phase retrieval engine (spec §4.6,
// C7): dense + lexical fusion for direct matches, followed by similarity
// graph expansion for related files. Grounded on gundog's _query.py, with
// the RRF fusion step adapted from the teacher's internal/search/fusion.go.
package query

import (
	"context"
	"sort"
	"strconv"

	"github.com/fenwick-labs/sift/internal/config"
	"github.com/fenwick-labs/sift/internal/embed"
	apperrors "github.com/fenwick-labs/sift/internal/errors"
	"github.com/fenwick-labs/sift/internal/graph"
	"github.com/fenwick-labs/sift/internal/store"
)

// rrfConstant is the standard RRF smoothing constant (k=60), empirically
// validated across domains and used as-is from the teacher's fusion.go.
const rrfConstant = 60

// rescaleBaseline is the cosine similarity most embedding models produce
// for wholly unrelated text; scores are rescaled so this baseline reads
// as 0% relevance and 1.0 reads as 100%.
const rescaleBaseline = 0.5

// Request is one query engine invocation (spec §4.6).
type Request struct {
	QueryText   string
	TopK        int
	Expand      bool
	ExpandDepth int // 0 means "use config.Graph.MaxExpandDepth"
	TypeFilter  string
	MinScore    float64
}

// DirectMatch is one direct (vector/hybrid) search result.
type DirectMatch struct {
	Path      string  `json:"path"`
	Type      string  `json:"type"`
	Score     float64 `json:"score"`
	Chunk     *int    `json:"chunk,omitempty"`
	StartLine int     `json:"-"`
	EndLine   int     `json:"-"`
	Lines     string  `json:"lines,omitempty"`
}

// RelatedMatch is one graph-expanded related result.
type RelatedMatch struct {
	Path       string  `json:"path"`
	Type       string  `json:"type"`
	Via        string  `json:"via"`
	EdgeWeight float64 `json:"edge_weight"`
	Depth      int     `json:"depth"`
	Chunk      *int    `json:"chunk,omitempty"`
}

// Result is the full query engine output (spec §4.6).
type Result struct {
	Query   string         `json:"query"`
	Direct  []DirectMatch  `json:"direct"`
	Related []RelatedMatch `json:"related"`
}

// Engine executes queries against one loaded index's artifacts.
type Engine struct {
	cfg      *config.Config
	embedder embed.Embedder
	store    *store.VectorStore
	graph    *graph.Graph
	bm25     *store.BM25Index
}

// New constructs a query Engine over an already-loaded index's artifacts.
func New(cfg *config.Config, embedder embed.Embedder, vs *store.VectorStore, g *graph.Graph, bm *store.BM25Index) *Engine {
	return &Engine{cfg: cfg, embedder: embedder, store: vs, graph: g, bm25: bm}
}

// Query executes one request through the two-phase retrieval pipeline.
func (e *Engine) Query(ctx context.Context, req Request) (Result, error) {
	if req.QueryText == "" {
		return Result{}, apperrors.InvalidRequestError("query_text must not be empty")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	minScore := req.MinScore
	if minScore == 0 {
		minScore = rescaleBaseline
	}

	queryVec, err := e.embedder.Embed(ctx, req.QueryText)
	if err != nil {
		return Result{}, apperrors.EmbedderFailureError(err)
	}
	store.NormalizeInPlace(queryVec)

	vectorResults := e.store.Search(queryVec, topK*2)
	vectorResults = filterByMinScore(vectorResults, float32(minScore))

	var fused []store.ScoredEntry
	if e.cfg.Hybrid.Enabled && !e.bm25.IsEmpty() && len(vectorResults) > 0 {
		bm25Results := e.bm25.Search(req.QueryText, topK*2)
		validIDs := make(map[store.ChunkID]bool, len(vectorResults))
		for _, r := range vectorResults {
			validIDs[r.ID] = true
		}
		filtered := make([]store.BM25Result, 0, len(bm25Results))
		for _, r := range bm25Results {
			if validIDs[r.DocID] {
				filtered = append(filtered, r)
			}
		}
		fused = fuse(vectorResults, filtered, e.cfg.Hybrid.VectorWeight, e.cfg.Hybrid.BM25Weight, topK*2)
	} else {
		fused = vectorResults
	}

	results := dedupeChunks(fused, e.cfg.Chunking.Enabled)

	if req.TypeFilter != "" {
		results = filterByType(results, req.TypeFilter)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}

	direct := make([]DirectMatch, 0, len(results))
	for _, r := range results {
		parent, chunkIdx, chunked := r.ID.Parse()
		match := DirectMatch{
			Path:  parent,
			Type:  r.Meta.TypeTag,
			Score: round4(rescale(float64(r.Score))),
		}
		if chunked {
			idx := chunkIdx
			match.Chunk = &idx
		}
		if r.Meta.StartLine > 0 {
			match.Lines = lineRange(r.Meta.StartLine, r.Meta.EndLine)
		}
		direct = append(direct, match)
	}

	related := []RelatedMatch{}
	if req.Expand && len(results) > 0 {
		depth := req.ExpandDepth
		if depth <= 0 {
			depth = e.cfg.Graph.MaxExpandDepth
		}

		seeds := make([]store.ChunkID, len(results))
		for i, r := range results {
			seeds[i] = r.ID
		}

		expanded := e.graph.Expand(seeds, e.cfg.Graph.ExpandThreshold, depth)

		seedSet := make(map[store.ChunkID]bool, len(seeds))
		directParents := make(map[string]bool, len(seeds))
		for _, s := range seeds {
			seedSet[s] = true
			directParents[s.ParentFile()] = true
		}
		seenParents := make(map[string]bool)

		type expandedEntry struct {
			id   store.ChunkID
			node graph.ExpandedNode
		}
		ordered := make([]expandedEntry, 0, len(expanded))
		for id, node := range expanded {
			ordered = append(ordered, expandedEntry{id: id, node: node})
		}
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })

		for _, entry := range ordered {
			if seedSet[entry.id] {
				continue
			}
			parent, chunkIdx, chunked := entry.id.Parse()
			if directParents[parent] || seenParents[parent] {
				continue
			}

			entryMeta, _ := e.store.Get(entry.id)
			if req.TypeFilter != "" && entryMeta.Meta.TypeTag != req.TypeFilter {
				continue
			}
			seenParents[parent] = true

			viaParent := entry.node.Via.ParentFile()
			rel := RelatedMatch{
				Path:       parent,
				Type:       entryMeta.Meta.TypeTag,
				Via:        viaParent,
				EdgeWeight: round4(entry.node.EdgeWeight),
				Depth:      entry.node.Depth,
			}
			if chunked {
				idx := chunkIdx
				rel.Chunk = &idx
			}
			related = append(related, rel)
		}

		sort.SliceStable(related, func(i, j int) bool { return related[i].EdgeWeight > related[j].EdgeWeight })
	}

	return Result{Query: req.QueryText, Direct: direct, Related: related}, nil
}

func filterByMinScore(results []store.ScoredEntry, minScore float32) []store.ScoredEntry {
	out := make([]store.ScoredEntry, 0, len(results))
	for _, r := range results {
		if r.Score >= minScore {
			out = append(out, r)
		}
	}
	return out
}

func filterByType(results []store.ScoredEntry, typeTag string) []store.ScoredEntry {
	out := make([]store.ScoredEntry, 0, len(results))
	for _, r := range results {
		if r.Meta.TypeTag == typeTag {
			out = append(out, r)
		}
	}
	return out
}

// fuse combines dense and lexical rankings via Reciprocal Rank Fusion,
// reporting the original cosine similarity (not the RRF value) so the
// displayed score stays meaningful across queries (spec §4.6 step 4).
func fuse(vector []store.ScoredEntry, bm25 []store.BM25Result, vecWeight, bm25Weight float64, limit int) []store.ScoredEntry {
	rrfScore := make(map[store.ChunkID]float64)
	vecScore := make(map[store.ChunkID]store.ScoredEntry)

	for rank, r := range vector {
		rrfScore[r.ID] += vecWeight / float64(rrfConstant+rank)
		vecScore[r.ID] = r
	}
	for rank, r := range bm25 {
		rrfScore[r.DocID] += bm25Weight / float64(rrfConstant+rank)
		if _, ok := vecScore[r.DocID]; !ok {
			vecScore[r.DocID] = store.ScoredEntry{ID: r.DocID}
		}
	}

	ids := make([]store.ChunkID, 0, len(rrfScore))
	for id := range rrfScore {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if rrfScore[ids[i]] != rrfScore[ids[j]] {
			return rrfScore[ids[i]] > rrfScore[ids[j]]
		}
		return ids[i] < ids[j]
	})

	if len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]store.ScoredEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, vecScore[id])
	}
	return out
}

// dedupeChunks keeps only the highest-scoring chunk per parent file when
// chunking is enabled; whole-file results pass through untouched.
func dedupeChunks(results []store.ScoredEntry, chunkingEnabled bool) []store.ScoredEntry {
	if !chunkingEnabled {
		return results
	}

	bestByFile := make(map[string]store.ScoredEntry)
	order := make([]string, 0)
	for _, r := range results {
		parent := r.ID.ParentFile()
		existing, ok := bestByFile[parent]
		if !ok {
			order = append(order, parent)
			bestByFile[parent] = r
			continue
		}
		if r.Score > existing.Score {
			bestByFile[parent] = r
		}
	}

	out := make([]store.ScoredEntry, 0, len(order))
	for _, parent := range order {
		out = append(out, bestByFile[parent])
	}
	return out
}

// rescale maps raw cosine similarity onto an intuitive 0-1 relevance
// scale: rescaleBaseline becomes 0%, 1.0 stays 100% (spec §4.6 step 8).
func rescale(rawScore float64) float64 {
	if rawScore <= rescaleBaseline {
		return 0
	}
	return (rawScore - rescaleBaseline) / (1 - rescaleBaseline)
}

func round4(v float64) float64 {
	return float64(int(v*10000+0.5)) / 10000
}

func lineRange(start, end int) string {
	if end == 0 {
		end = start
	}
	return strconv.Itoa(start) + "-" + strconv.Itoa(end)
}
