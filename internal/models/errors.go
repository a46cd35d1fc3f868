package models

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks missing credentials, URLs or mismatched model settings.
	// Never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransientProvider marks rate limits, timeouts and 5xx responses from a provider.
	ErrTransientProvider = errors.New("transient provider error")

	// ErrInvalidContent marks text that does not look like natural language.
	ErrInvalidContent = errors.New("invalid content")

	// ErrEmptyContent marks text with nothing extractable, e.g. a scanned PDF.
	ErrEmptyContent = errors.New("empty content")

	// ErrIndexOperation marks a vector index create/upsert/search/delete failure.
	ErrIndexOperation = errors.New("index operation failed")

	// ErrCollectionNotFound is returned by deletes against a collection that does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrNoRelevantContent is a valid empty-result outcome, not a fault.
	ErrNoRelevantContent = errors.New("no relevant content")

	// ErrInvalidRequest marks a malformed caller request.
	ErrInvalidRequest = errors.New("invalid request")
)

// ProviderError wraps a failure from an embedding or completion provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s provider (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrTransientProvider:
		return e.Transient
	case ErrConfiguration:
		return e.StatusCode == 401 || e.StatusCode == 403
	}
	return false
}

// DimensionError reports an embedding whose length differs from the configured size.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

func (e *DimensionError) Is(target error) bool { return target == ErrConfiguration }

// IndexError reports which vector index operation failed. Batch is -1 for
// unbatched operations; Succeeded counts points written before the failure.
type IndexError struct {
	Op         string
	Collection string
	Batch      int
	Succeeded  int
	Err        error
}

func (e *IndexError) Error() string {
	if e.Batch >= 0 {
		return fmt.Sprintf("index %s on %q failed at batch %d (%d points written): %v",
			e.Op, e.Collection, e.Batch, e.Succeeded, e.Err)
	}
	return fmt.Sprintf("index %s on %q failed: %v", e.Op, e.Collection, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

func (e *IndexError) Is(target error) bool { return target == ErrIndexOperation }

// RetryExhaustedError is returned once a transient failure outlives the retry budget.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// Pipeline stages used to tag orchestrator failures.
const (
	StageExtract          = "extract"
	StageNormalize        = "normalize"
	StageChunk            = "chunk"
	StageEnsureCollection = "ensure_collection"
	StageEmbed            = "embed"
	StageUpsert           = "upsert"
	StageEmbedQuery       = "embed_query"
	StageSearch           = "search"
	StageAssemble         = "assemble"
	StageGenerate         = "generate"
	StageCleanup          = "cleanup"
)

var stageMessages = map[string]string{
	StageExtract:          "text extraction failed",
	StageNormalize:        "text normalization failed",
	StageChunk:            "chunking failed",
	StageEnsureCollection: "vector collection setup failed",
	StageEmbed:            "embedding generation failed",
	StageUpsert:           "storing chunks failed",
	StageEmbedQuery:       "embedding generation failed",
	StageSearch:           "similarity search failed",
	StageAssemble:         "context assembly failed",
	StageGenerate:         "answer generation failed",
	StageCleanup:          "cleanup failed",
}

// StageError is a terminal pipeline failure tagged with the stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	msg, ok := stageMessages[e.Stage]
	if !ok {
		msg = e.Stage + " failed"
	}
	return msg + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// Stage wraps err with a stage tag. A nil err stays nil.
func Stage(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidContent) ||
		errors.Is(err, ErrEmptyContent) ||
		errors.Is(err, ErrInvalidRequest)
}
