package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type for memory operations.
type ErrorCode string

const (
	// ErrCodeUnavailable indicates a transport failure to the cache or the durable store.
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"
	// ErrCodeConflict indicates an upsert constraint violation.
	ErrCodeConflict ErrorCode = "CONFLICT"
	// ErrCodeNotFound indicates absence. Reads report it as an empty result instead.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeInvalidArgument indicates degenerate input.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeScorerDegraded indicates the relevance scorer failed and a fallback score was used.
	ErrCodeScorerDegraded ErrorCode = "SCORER_DEGRADED"
)

// MemoryError represents a structured error for memory operations.
type MemoryError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *MemoryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *MemoryError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *MemoryError) WithContext(key string, value any) *MemoryError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Unavailable creates an unavailable error wrapping a transport failure.
func Unavailable(msg string, cause error) *MemoryError {
	return &MemoryError{Code: ErrCodeUnavailable, Message: msg, Cause: cause}
}

// Conflict creates a conflict error.
func Conflict(msg string, cause error) *MemoryError {
	return &MemoryError{Code: ErrCodeConflict, Message: msg, Cause: cause}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *MemoryError {
	return &MemoryError{Code: ErrCodeInvalidArgument, Message: msg}
}

// ScorerDegraded creates a scorer degraded error.
func ScorerDegraded(cause error) *MemoryError {
	return &MemoryError{Code: ErrCodeScorerDegraded, Message: "relevance scorer failed", Cause: cause}
}

// IsCode checks if an error, or anything it wraps, carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var memErr *MemoryError
	if errors.As(err, &memErr) {
		return memErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not a MemoryError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var memErr *MemoryError
	if errors.As(err, &memErr) {
		return memErr.Code
	}
	return defaultCode
}
