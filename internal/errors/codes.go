// Package errors provides the structured error type shared by the indexer,
// query engine, index manager, and the daemon transports.
//
// Every error raised across a package boundary is one of six kinds; callers
// that need to branch on failure mode switch on Kind, not on message text.
package errors

// Kind classifies a RetrievalError by failure mode.
type Kind string

const (
	// InvalidRequest: malformed input (missing fields, empty query, k out of range).
	InvalidRequest Kind = "INVALID_REQUEST"
	// UnknownIndex: index name not present in the registry.
	UnknownIndex Kind = "UNKNOWN_INDEX"
	// IndexNotLoaded: no default index configured and none specified explicitly.
	IndexNotLoaded Kind = "INDEX_NOT_LOADED"
	// EmbedderFailure: the embedder call failed. Retryable by the client.
	EmbedderFailure Kind = "EMBEDDER_FAILURE"
	// IOFailure: a filesystem read or write failed.
	IOFailure Kind = "IO_FAILURE"
	// CorruptArtifact: a persisted store/graph/BM25 artifact failed to load.
	CorruptArtifact Kind = "CORRUPT_ARTIFACT"
)

// retryableKind reports whether errors of this kind are safe for the caller
// to retry. Only embedder failures are — an invalid request or a corrupt
// artifact will fail identically on a second attempt.
func retryableKind(k Kind) bool {
	return k == EmbedderFailure
}
