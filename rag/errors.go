package rag

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when a vector does not match the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidChunkParams is returned for a non-positive chunk size or an overlap not below it.
	ErrInvalidChunkParams = errors.New("invalid chunk parameters")
)

// DocumentReadError reports a PDF that could not be opened or parsed.
// It only aborts the ingestion of that one document.
type DocumentReadError struct {
	Path string
	Err  error
}

func (e *DocumentReadError) Error() string {
	return fmt.Sprintf("read document %s: %v", e.Path, e.Err)
}

func (e *DocumentReadError) Unwrap() error { return e.Err }

// EmbeddingError reports an unavailable embedding backend or malformed input.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding with %s: %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// AnswerError reports a failed LLM call. Its message is shown to users as is.
type AnswerError struct {
	Provider string
	Err      error
}

func (e *AnswerError) Error() string {
	return fmt.Sprintf("Error from %s: %v", e.Provider, e.Err)
}

func (e *AnswerError) Unwrap() error { return e.Err }
