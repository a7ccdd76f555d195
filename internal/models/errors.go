package models

import "errors"

// Sentinel errors shared across the pipeline. Callers classify failures
// with errors.Is; the API layer maps them to HTTP status codes.
var (
	// ErrInvalidConfig reports a configuration that violates a constraint,
	// e.g. chunk_overlap >= chunk_size.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnsupportedFormat reports a file extension no parser handles.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrRead reports an I/O failure while loading a document.
	ErrRead = errors.New("read failed")

	// ErrEmptyDocument reports a document whose extracted text is empty
	// or whitespace-only.
	ErrEmptyDocument = errors.New("document is empty")

	// ErrNotFound reports an operation against a source that has no
	// chunks in the store.
	ErrNotFound = errors.New("document not found")

	// ErrBackendUnavailable reports that the embedding or generation
	// runtime could not be reached.
	ErrBackendUnavailable = errors.New("llm backend unavailable")

	// ErrValidation reports a malformed request, rejected before any
	// side effect.
	ErrValidation = errors.New("invalid request")
)
