// Package errors defines the structured error taxonomy for DocSense.
// Every user-visible failure carries a code and a human-readable message;
// the retryable flag drives the generation gateway's retry policy.
package errors

import (
	"errors"
	"fmt"
)

// Error codes, one per failure class.
const (
	CodeValidation          = "ERR_VALIDATION"
	CodeChunking            = "ERR_CHUNKING"
	CodeIndexing            = "ERR_INDEXING"
	CodeEmptyContext        = "ERR_EMPTY_CONTEXT"
	CodeCapacityExceeded    = "ERR_CAPACITY_EXCEEDED"
	CodeGenerationTransient = "ERR_GENERATION_TRANSIENT"
	CodeGenerationPermanent = "ERR_GENERATION_PERMANENT"
	CodeNotFound            = "ERR_NOT_FOUND"
	CodeInternal            = "ERR_INTERNAL"
)

// DocError is the structured error type for DocSense.
type DocError struct {
	// Code is the unique error code (e.g., "ERR_CHUNKING").
	Code string

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates whether the failed operation may be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *DocError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DocError) Unwrap() error {
	return e.Cause
}

// Is matches DocErrors by code so errors.Is works across wrapping.
func (e *DocError) Is(target error) bool {
	if t, ok := target.(*DocError); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a DocError with the given code and message.
func New(code, message string, cause error) *DocError {
	return &DocError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: code == CodeGenerationTransient,
	}
}

// Validation creates a request-validation error. Never retryable;
// no job or query is created for the rejected request.
func Validation(message string) *DocError {
	return New(CodeValidation, message, nil)
}

// Chunking creates an ingestion-time chunking error.
func Chunking(message string, cause error) *DocError {
	return New(CodeChunking, message, cause)
}

// Indexing creates an ingestion-time indexing error.
func Indexing(message string, cause error) *DocError {
	return New(CodeIndexing, message, cause)
}

// EmptyContext signals that no candidates survived filtering and fusion.
// The answer path returns a "no relevant content" result, not a hard failure.
func EmptyContext(message string) *DocError {
	return New(CodeEmptyContext, message, nil)
}

// CapacityExceeded signals that generation capacity is exhausted.
// The summarize path maps this to an immediate busy status.
func CapacityExceeded(message string) *DocError {
	return New(CodeCapacityExceeded, message, nil)
}

// GenerationTransient wraps a retryable generation failure
// (network error, upstream 5xx, rate-limit response).
func GenerationTransient(message string, cause error) *DocError {
	return New(CodeGenerationTransient, message, cause)
}

// GenerationPermanent wraps a non-retryable generation failure
// (invalid input, content-policy rejection).
func GenerationPermanent(message string, cause error) *DocError {
	return New(CodeGenerationPermanent, message, cause)
}

// NotFound creates a lookup failure for an unknown job or document.
func NotFound(message string) *DocError {
	return New(CodeNotFound, message, nil)
}

// Internal wraps an unexpected failure that is not the caller's fault.
func Internal(message string, cause error) *DocError {
	return New(CodeInternal, message, cause)
}

// IsRetryable reports whether err is a retryable DocError.
func IsRetryable(err error) bool {
	var de *DocError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// CodeOf returns the DocError code of err, or CodeInternal for plain errors.
func CodeOf(err error) string {
	var de *DocError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
