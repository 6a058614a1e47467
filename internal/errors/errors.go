package errors

import (
	"errors"
	"fmt"
)

// RetrievalError is the structured error type threaded through the indexer,
// query engine, index manager, and daemon transports.
type RetrievalError struct {
	// Kind is the failure mode, one of the six taxonomy values.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error, if any.
	Cause error

	// Retryable indicates if the operation can be retried. True only for
	// EmbedderFailure.
	Retryable bool

	// Suggestion is an actionable suggestion for the caller.
	Suggestion string
}

// Error implements the error interface.
func (e *RetrievalError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RetrievalError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a RetrievalError of the same Kind, enabling
// errors.Is(err, &RetrievalError{Kind: UnknownIndex}) style checks.
func (e *RetrievalError) Is(target error) bool {
	var t *RetrievalError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail to the error. Returns the error for
// method chaining.
func (e *RetrievalError) WithDetail(key, value string) *RetrievalError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion. Returns the error for
// method chaining.
func (e *RetrievalError) WithSuggestion(suggestion string) *RetrievalError {
	e.Suggestion = suggestion
	return e
}

// New creates a RetrievalError of the given kind. Retryable is derived from
// kind.
func New(kind Kind, message string, cause error) *RetrievalError {
	return &RetrievalError{
		Kind:      kind,
		Message:   message,
		Cause:     cause,
		Retryable: retryableKind(kind),
	}
}

// Wrap creates a RetrievalError of the given kind from an existing error,
// reusing its message. Returns nil if err is nil.
func Wrap(kind Kind, err error) *RetrievalError {
	if err == nil {
		return nil
	}
	return New(kind, err.Error(), err)
}

// InvalidRequestError reports malformed input: missing fields, empty
// query, k out of range.
func InvalidRequestError(message string) *RetrievalError {
	return New(InvalidRequest, message, nil)
}

// UnknownIndexError reports a switch/query against a name absent from the
// registry.
func UnknownIndexError(name string) *RetrievalError {
	return New(UnknownIndex, "unknown index: "+name, nil).WithDetail("name", name)
}

// IndexNotLoadedError reports a query with no default and no explicit
// index.
func IndexNotLoadedError() *RetrievalError {
	return New(IndexNotLoaded, "no index loaded and none specified", nil)
}

// EmbedderFailureError wraps an embedder call failure. Retryable.
func EmbedderFailureError(cause error) *RetrievalError {
	return Wrap(EmbedderFailure, cause).WithSuggestion("retry the request; the embedder may be transiently unavailable")
}

// IOFailureError wraps a filesystem read/write failure.
func IOFailureError(cause error) *RetrievalError {
	return Wrap(IOFailure, cause)
}

// CorruptArtifactError reports a persisted store/graph/BM25 artifact that
// failed to load or deserialize.
func CorruptArtifactError(path string, cause error) *RetrievalError {
	return Wrap(CorruptArtifact, cause).WithDetail("path", path)
}

// IsRetryable reports whether err is a RetrievalError with Retryable set.
func IsRetryable(err error) bool {
	var re *RetrievalError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// GetKind extracts the Kind from err. Returns the empty Kind if err is not
// a RetrievalError.
func GetKind(err error) Kind {
	var re *RetrievalError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
