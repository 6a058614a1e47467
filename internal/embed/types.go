// Package embed defines the Embedder contract consumed by the indexer and
// query engine. The embedding model itself is always an external
// collaborator (spec §6): this package never authors one, only the
// interface and the content-addressed cache (A4) that sits in front of it.
package embed

import "context"

// DefaultEmbeddingCacheSize is the default number of embeddings kept by
// CachedEmbedder.
const DefaultEmbeddingCacheSize = 1000

// Embedder maps text to unit-norm vectors. Implementations are expected
// to be either internally thread-safe or effectively serialized by the
// caller (spec §5): it is treated as a black box that may block.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving
	// input order (spec §4.5 step 5).
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed embedding dimension for this model.
	Dimensions() int

	// ModelName returns the model identifier, recorded alongside cache
	// keys and index metadata so a dimension/model mismatch is detectable.
	ModelName() string

	// Available reports whether the embedder is currently reachable.
	Available(ctx context.Context) bool

	// Close releases any resources held by the embedder.
	Close() error
}
