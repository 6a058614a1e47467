// Package graph builds and traverses the undirected similarity graph over
// a vector store's entries (spec §4.3): a k-NN graph used to surface
// "related" files beyond a query's direct matches.
package graph

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fenwick-labs/sift/internal/store"
)

// Edge is one undirected similarity edge.
type Edge struct {
	A      store.ChunkID `json:"a"`
	B      store.ChunkID `json:"b"`
	Weight float64       `json:"weight"`
}

// Graph is an adjacency-list similarity graph, keyed by vertex id (spec
// §9 design note: no dense internal numbering, no back-pointers).
type Graph struct {
	Threshold float64                                `json:"threshold"`
	KNeighbors int                                   `json:"k_neighbors"`
	adjacency  map[store.ChunkID]map[store.ChunkID]float64
}

// artifact is the JSON-serializable form of Graph (spec §6: graph.json).
type artifact struct {
	Threshold  float64 `json:"threshold"`
	KNeighbors int     `json:"k_neighbors"`
	Edges      []Edge  `json:"edges"`
}

// New creates an empty graph with the given build parameters.
func New(threshold float64, kNeighbors int) *Graph {
	return &Graph{
		Threshold:  threshold,
		KNeighbors: kNeighbors,
		adjacency:  make(map[store.ChunkID]map[store.ChunkID]float64),
	}
}

func cosine(a, b []float32) float64 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return float64(sum)
}

type neighborCandidate struct {
	id  store.ChunkID
	sim float64
}

// Build constructs the k-NN similarity graph over vectors (spec §4.3):
// for each vertex, its k_neighbors nearest other vertices by cosine
// similarity; a candidate edge survives iff its similarity exceeds
// threshold; edges are deduplicated per unordered pair and the graph is
// undirected with no self-loops.
func Build(vectors map[store.ChunkID][]float32, threshold float64, kNeighbors int) *Graph {
	g := New(threshold, kNeighbors)

	ids := make([]store.ChunkID, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, a := range ids {
		candidates := make([]neighborCandidate, 0, len(ids)-1)
		for _, b := range ids {
			if a == b {
				continue
			}
			sim := cosine(vectors[a], vectors[b])
			if sim > threshold {
				candidates = append(candidates, neighborCandidate{id: b, sim: sim})
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].sim != candidates[j].sim {
				return candidates[i].sim > candidates[j].sim
			}
			return candidates[i].id < candidates[j].id
		})
		if len(candidates) > kNeighbors {
			candidates = candidates[:kNeighbors]
		}
		for _, c := range candidates {
			g.addEdge(a, c.id, c.sim)
		}
	}

	return g
}

// addEdge inserts a single undirected edge, symmetric in both adjacency
// entries, keeping at most one edge per unordered pair.
func (g *Graph) addEdge(a, b store.ChunkID, weight float64) {
	if a == b {
		return
	}
	if g.adjacency[a] == nil {
		g.adjacency[a] = make(map[store.ChunkID]float64)
	}
	if g.adjacency[b] == nil {
		g.adjacency[b] = make(map[store.ChunkID]float64)
	}
	g.adjacency[a][b] = weight
	g.adjacency[b][a] = weight
}

// Edges returns every edge exactly once.
func (g *Graph) Edges() []Edge {
	seen := make(map[[2]store.ChunkID]bool)
	edges := make([]Edge, 0)
	for a, neighbors := range g.adjacency {
		for b, w := range neighbors {
			key := [2]store.ChunkID{a, b}
			if a > b {
				key = [2]store.ChunkID{b, a}
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			edges = append(edges, Edge{A: key[0], B: key[1], Weight: w})
		}
	}
	return edges
}

// HasVertex reports whether id has any incident edge recorded.
func (g *Graph) HasVertex(id store.ChunkID) bool {
	_, ok := g.adjacency[id]
	return ok
}

// ExpandedNode is one node reached by Expand.
type ExpandedNode struct {
	Node       store.ChunkID
	Via        store.ChunkID
	EdgeWeight float64
	Depth      int
}

// Expand performs a bounded BFS from seeds (spec §4.3): only edges with
// weight >= minWeight are traversed, up to maxDepth hops. When a node is
// reachable via multiple paths, the entry with the smaller depth wins;
// ties break on larger edge_weight on the final hop, then lexicographic
// id. Seeds are never included in the result.
func (g *Graph) Expand(seeds []store.ChunkID, minWeight float64, maxDepth int) map[store.ChunkID]ExpandedNode {
	best := make(map[store.ChunkID]ExpandedNode)
	seedSet := make(map[store.ChunkID]bool, len(seeds))
	for _, s := range seeds {
		seedSet[s] = true
	}

	type queued struct {
		node  store.ChunkID
		depth int
	}

	sortedSeeds := append([]store.ChunkID(nil), seeds...)
	sort.Slice(sortedSeeds, func(i, j int) bool { return sortedSeeds[i] < sortedSeeds[j] })

	visited := make(map[store.ChunkID]int) // node -> best known depth so far, for BFS pruning
	queue := make([]queued, 0, len(sortedSeeds))
	for _, s := range sortedSeeds {
		queue = append(queue, queued{node: s, depth: 0})
		visited[s] = 0
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth >= maxDepth {
			continue
		}

		neighbors := g.adjacency[cur.node]
		if len(neighbors) == 0 {
			continue
		}

		nbIDs := make([]store.ChunkID, 0, len(neighbors))
		for nb := range neighbors {
			nbIDs = append(nbIDs, nb)
		}
		sort.Slice(nbIDs, func(i, j int) bool { return nbIDs[i] < nbIDs[j] })

		for _, nb := range nbIDs {
			weight := neighbors[nb]
			if weight < minWeight {
				continue
			}
			nextDepth := cur.depth + 1

			if !seedSet[nb] {
				candidate := ExpandedNode{Node: nb, Via: cur.node, EdgeWeight: weight, Depth: nextDepth}
				existing, ok := best[nb]
				if !ok || better(candidate, existing) {
					best[nb] = candidate
				}
			}

			if prevDepth, ok := visited[nb]; !ok || nextDepth < prevDepth {
				visited[nb] = nextDepth
				queue = append(queue, queued{node: nb, depth: nextDepth})
			}
		}
	}

	return best
}

// better reports whether candidate should replace existing under the
// tie-break rules: smaller depth wins; then larger edge_weight; then
// lexicographically smaller via id (deterministic final tiebreak).
func better(candidate, existing ExpandedNode) bool {
	if candidate.Depth != existing.Depth {
		return candidate.Depth < existing.Depth
	}
	if candidate.EdgeWeight != existing.EdgeWeight {
		return candidate.EdgeWeight > existing.EdgeWeight
	}
	return candidate.Via < existing.Via
}

// Save persists the graph atomically as JSON, embedding the build
// threshold for self-describing traversal (spec §4.3, §6).
func (g *Graph) Save(path string) error {
	a := artifact{Threshold: g.Threshold, KNeighbors: g.KNeighbors, Edges: g.Edges()}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("graph: mkdir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("graph: create temp: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	if err := enc.Encode(a); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("graph: encode: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("graph: flush: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("graph: close temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("graph: rename: %w", err)
	}
	return nil
}

// Load replaces the graph's contents with the artifact at path.
func (g *Graph) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("graph: open: %w", err)
	}
	defer f.Close()

	var a artifact
	if err := json.NewDecoder(bufio.NewReader(f)).Decode(&a); err != nil {
		return fmt.Errorf("graph: corrupt artifact: %w", err)
	}

	g.Threshold = a.Threshold
	g.KNeighbors = a.KNeighbors
	g.adjacency = make(map[store.ChunkID]map[store.ChunkID]float64)
	for _, e := range a.Edges {
		g.addEdge(e.A, e.B, e.Weight)
	}
	return nil
}
