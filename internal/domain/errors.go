package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest signals a request that failed validation.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrCompletionProviderError signals a structured completion provider failure.
	ErrCompletionProviderError = errors.New("completion provider error")
	// ErrKeywordSearchNotSupported signals that the backend lacks keyword search.
	ErrKeywordSearchNotSupported = errors.New("keyword search not supported by backend")

	// ErrRetrieval signals that the search backend was unreachable or timed out.
	ErrRetrieval = errors.New("retrieval failed")
	// ErrInvalidSeed signals a similarity seed that does not exist or has no vector.
	ErrInvalidSeed = errors.New("invalid similarity seed")
	// ErrExtraction signals a failed or schema-invalid extraction call.
	ErrExtraction = errors.New("extraction failed")
	// ErrSchemaViolation signals a value outside the attribute schema.
	ErrSchemaViolation = errors.New("schema violation")
	// ErrMemoryNotFound signals a missing memory record.
	ErrMemoryNotFound = errors.New("memory not found")
)

// RetrievalError wraps a backend failure during search.
type RetrievalError struct {
	Op  string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrRetrieval, e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *RetrievalError) Unwrap() []error { return []error{ErrRetrieval, e.Err} }

// InvalidSeedError reports a seed id that cannot anchor a similarity search.
type InvalidSeedError struct {
	ID     string
	Reason string
}

func (e *InvalidSeedError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrInvalidSeed, e.ID, e.Reason)
}

func (e *InvalidSeedError) Unwrap() error { return ErrInvalidSeed }

// ExtractionError wraps a failure of one extraction stage.
type ExtractionError struct {
	Stage string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s at %s: %v", ErrExtraction, e.Stage, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *ExtractionError) Unwrap() []error { return []error{ErrExtraction, e.Err} }

// SchemaViolationError reports an enum value outside its allowed set.
type SchemaViolationError struct {
	Key     string
	Value   string
	Allowed []string
}

func (e *SchemaViolationError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("%s: %s=%q", ErrSchemaViolation, e.Key, e.Value)
	}
	return fmt.Sprintf("%s: %s=%q not in [%s]", ErrSchemaViolation, e.Key, e.Value, strings.Join(e.Allowed, ", "))
}

func (e *SchemaViolationError) Unwrap() error { return ErrSchemaViolation }

// MemoryNotFoundError reports a reinforce/decay/delete on a missing memory.
type MemoryNotFoundError struct {
	UserID string
	ID     string
}

func (e *MemoryNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s (user %s)", ErrMemoryNotFound, e.ID, e.UserID)
}

func (e *MemoryNotFoundError) Unwrap() error { return ErrMemoryNotFound }

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrSchemaViolation) {
		return false
	}
	return errors.Is(err, ErrRetrieval) || errors.Is(err, ErrExtraction)
}
