// Package store provides the vector store and BM25 index: the persistence
// layer for a single index's indexed entries.
package store

import (
	"fmt"
	"strconv"
	"strings"
)

// ChunkID is the canonical string identifier for a store entry: either a
// whole file's path, or a path suffixed with "#chunk_N" for a chunked
// entry. Both forms are losslessly parseable back into their components.
type ChunkID string

// NewChunkID builds the canonical id for a chunk at the given index.
// A negative chunkIndex denotes whole-file mode and yields the bare path.
func NewChunkID(parentPath string, chunkIndex int) ChunkID {
	if chunkIndex < 0 {
		return ChunkID(parentPath)
	}
	return ChunkID(fmt.Sprintf("%s#chunk_%d", parentPath, chunkIndex))
}

// Parse splits the id back into its parent file path and chunk index.
// Whole-file ids report chunkIndex = -1 and chunked = false.
func (id ChunkID) Parse() (parentPath string, chunkIndex int, chunked bool) {
	s := string(id)
	i := strings.LastIndex(s, "#chunk_")
	if i < 0 {
		return s, -1, false
	}
	n, err := strconv.Atoi(s[i+len("#chunk_"):])
	if err != nil {
		return s, -1, false
	}
	return s[:i], n, true
}

// ParentFile returns the parent file path regardless of chunking mode.
func (id ChunkID) ParentFile() string {
	parent, _, _ := id.Parse()
	return parent
}

// EntryMeta carries the recognized metadata keys of a StoreEntry.
// ChunkText caches the literal chunk (or whole-file) text at embed time so
// that BM25 rebuilds never need to re-read or re-chunk source files.
type EntryMeta struct {
	TypeTag     string
	MTime       float64
	ContentHash string
	ParentFile  string
	ChunkIndex  int // -1 when this entry is not chunked
	StartLine   int
	EndLine     int
	ChunkText   string
}

// IsChunked reports whether this entry belongs to a chunked file.
func (m EntryMeta) IsChunked() bool {
	return m.ChunkIndex >= 0
}

// StoreEntry is one persisted {id, vector, meta} record.
type StoreEntry struct {
	ID     ChunkID
	Vector []float32
	Meta   EntryMeta
}

// ScoredEntry is a single vector-store search hit.
type ScoredEntry struct {
	ID    ChunkID
	Score float32 // cosine similarity, since vectors are unit-norm
	Meta  EntryMeta
}

// ErrDimensionMismatch indicates a vector was upserted with the wrong
// dimensionality for this store.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// BM25Config fixes the Okapi parameters; the core does not make these
// configurable (spec §4.4).
type BM25Config struct {
	K1             float64
	B              float64
	StopWords      map[string]struct{}
	MinTokenLength int
}

// DefaultBM25Config returns the fixed, non-configurable BM25 parameters.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.5,
		B:              0.75,
		StopWords:      EnglishStopWords,
		MinTokenLength: 2,
	}
}

// BM25Result is a single lexical search hit.
type BM25Result struct {
	DocID ChunkID
	Score float64
}

// BM25Doc is a tokenized document tracked by the BM25 index.
type BM25Doc struct {
	ID     ChunkID
	Tokens []string
}
