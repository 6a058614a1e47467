package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// BM25Index is an in-memory Okapi BM25 inverted index with fixed
// parameters (k1=1.5, b=0.75, spec §4.4). It is not safe for concurrent
// mutation without the caller's own lease discipline, but Search is safe
// to call concurrently with other Searches.
type BM25Index struct {
	mu sync.RWMutex

	cfg BM25Config

	// postings maps a term to the set of doc ids containing it, with
	// term frequency within that doc.
	postings map[string]map[ChunkID]int
	docLen   map[ChunkID]int
	docCount int
	totalLen int

	built bool // distinguishes "not built" from "built with zero docs"
}

// bm25Artifact is the gob-serializable form of the index.
type bm25Artifact struct {
	Config   BM25Config
	Postings map[string]map[ChunkID]int
	DocLen   map[ChunkID]int
	DocCount int
	TotalLen int
	Built    bool
}

// NewBM25Index creates an empty BM25 index with the fixed core parameters.
func NewBM25Index() *BM25Index {
	return &BM25Index{
		cfg:      DefaultBM25Config(),
		postings: make(map[string]map[ChunkID]int),
		docLen:   make(map[ChunkID]int),
	}
}

// Tokens extracts the index terms for a BM25 document: the shared
// tokenizer, stop-word filtered.
func Tokens(text string) []string {
	return FilterStopWords(Tokenize(text), EnglishStopWords)
}

// Index replaces the index contents with the given documents. Rebuilding
// is whole, matching the core's "no incremental patch" rule (spec §9).
func (b *BM25Index) Index(docs []BM25Doc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.postings = make(map[string]map[ChunkID]int)
	b.docLen = make(map[ChunkID]int)
	b.docCount = 0
	b.totalLen = 0

	for _, d := range docs {
		b.docLen[d.ID] = len(d.Tokens)
		b.totalLen += len(d.Tokens)
		b.docCount++

		counts := make(map[string]int)
		for _, t := range d.Tokens {
			counts[t]++
		}
		for term, tf := range counts {
			m, ok := b.postings[term]
			if !ok {
				m = make(map[ChunkID]int)
				b.postings[term] = m
			}
			m[d.ID] = tf
		}
	}
	b.built = true
}

// IsEmpty distinguishes "not built" (no call to Index yet) from "built but
// zero documents".
func (b *BM25Index) IsEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.built
}

// avgDocLen returns the mean document length, or 0 if there are no docs.
func (b *BM25Index) avgDocLen() float64 {
	if b.docCount == 0 {
		return 0
	}
	return float64(b.totalLen) / float64(b.docCount)
}

// idf computes the Okapi BM25 inverse document frequency for a term.
func (b *BM25Index) idf(term string) float64 {
	n := float64(b.docCount)
	df := float64(len(b.postings[term]))
	// +0.5/+0.5 smoothing keeps idf finite and >= 0 for df <= n.
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

// Search returns the top-k documents ranked by BM25 score, descending.
// An empty or not-yet-built index returns an empty slice, never an error.
func (b *BM25Index) Search(queryText string, k int) []BM25Result {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.built || b.docCount == 0 {
		return []BM25Result{}
	}

	queryTerms := Tokens(queryText)
	if len(queryTerms) == 0 {
		return []BM25Result{}
	}

	avgLen := b.avgDocLen()
	scores := make(map[ChunkID]float64)

	seen := make(map[string]bool)
	for _, term := range queryTerms {
		if seen[term] {
			continue
		}
		seen[term] = true

		docs, ok := b.postings[term]
		if !ok {
			continue
		}
		idf := b.idf(term)
		for id, tf := range docs {
			dl := float64(b.docLen[id])
			num := float64(tf) * (b.cfg.K1 + 1)
			den := float64(tf) + b.cfg.K1*(1-b.cfg.B+b.cfg.B*dl/avgLen)
			scores[id] += idf * num / den
		}
	}

	results := make([]BM25Result, 0, len(scores))
	for id, score := range scores {
		results = append(results, BM25Result{DocID: id, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})

	if k >= 0 && k < len(results) {
		results = results[:k]
	}
	return results
}

// Delete removes documents by id, recomputing term statistics.
func (b *BM25Index) Delete(ids []ChunkID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	toDelete := make(map[ChunkID]bool, len(ids))
	for _, id := range ids {
		toDelete[id] = true
	}

	for term, docs := range b.postings {
		for id := range docs {
			if toDelete[id] {
				delete(docs, id)
			}
		}
		if len(docs) == 0 {
			delete(b.postings, term)
		}
	}

	for id := range toDelete {
		if l, ok := b.docLen[id]; ok {
			b.totalLen -= l
			b.docCount--
			delete(b.docLen, id)
		}
	}
}

// AllIDs returns every document id currently tracked by the index.
func (b *BM25Index) AllIDs() []ChunkID {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]ChunkID, 0, len(b.docLen))
	for id := range b.docLen {
		ids = append(ids, id)
	}
	return ids
}

// Save persists the index atomically (write-temp-then-rename, spec §6).
func (b *BM25Index) Save(path string) error {
	b.mu.RLock()
	artifact := bm25Artifact{
		Config:   b.cfg,
		Postings: b.postings,
		DocLen:   b.docLen,
		DocCount: b.docCount,
		TotalLen: b.totalLen,
		Built:    b.built,
	}
	b.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bm25: mkdir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("bm25: create temp: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := gob.NewEncoder(w).Encode(artifact); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("bm25: encode: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("bm25: flush: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("bm25: close temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("bm25: rename: %w", err)
	}
	return nil
}

// Load replaces the index contents with the artifact at path.
func (b *BM25Index) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("bm25: open: %w", err)
	}
	defer f.Close()

	var artifact bm25Artifact
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&artifact); err != nil {
		return fmt.Errorf("bm25: corrupt artifact: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = artifact.Config
	b.postings = artifact.Postings
	b.docLen = artifact.DocLen
	b.docCount = artifact.DocCount
	b.totalLen = artifact.TotalLen
	b.built = artifact.Built
	if b.postings == nil {
		b.postings = make(map[string]map[ChunkID]int)
	}
	if b.docLen == nil {
		b.docLen = make(map[ChunkID]int)
	}
	return nil
}
