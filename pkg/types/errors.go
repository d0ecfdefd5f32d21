package types

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by engine component.
type ErrorCategory string

const (
	ErrCategorySchema   ErrorCategory = "SCHEMA"
	ErrCategoryTable    ErrorCategory = "TABLE"
	ErrCategoryQuery    ErrorCategory = "QUERY"
	ErrCategoryView     ErrorCategory = "VIEW"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Schema codes
	CodeInvalidColumn = "INVALID_COLUMN"
	CodeTypeMismatch  = "TYPE_MISMATCH"
	CodeInvalidSchema = "INVALID_SCHEMA"

	// Table codes
	CodeTableClosed = "TABLE_CLOSED"
	CodeRowNotFound = "ROW_NOT_FOUND"

	// Query codes
	CodeParseError  = "PARSE_ERROR"
	CodeQueryFrozen = "QUERY_FROZEN"

	// View codes
	CodeOutOfRange    = "OUT_OF_RANGE"
	CodeStaleView     = "STALE_VIEW"
	CodePartialRemove = "PARTIAL_REMOVE"

	// Storage codes
	CodeTableNotFound  = "TABLE_NOT_FOUND"
	CodeSnapshotFailed = "SNAPSHOT_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// TabulonError is the structured error type used throughout the engine.
// Every fallible operation reports a specific category and code so callers
// can distinguish an empty result from an invalid request.
type TabulonError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Cause    error
}

// Error returns a formatted error string.
func (e *TabulonError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *TabulonError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *TabulonError) Is(target error) bool {
	var t *TabulonError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new TabulonError.
func New(category ErrorCategory, code, message string) *TabulonError {
	return &TabulonError{Category: category, Code: code, Message: message}
}

// Wrap creates a new TabulonError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *TabulonError {
	return &TabulonError{Category: category, Code: code, Message: message, Cause: cause}
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a TabulonError.
func GetCategory(err error) ErrorCategory {
	var te *TabulonError
	if errors.As(err, &te) {
		return te.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a TabulonError.
func GetCode(err error) string {
	var te *TabulonError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Convenience constructors for common errors.

func NewSchemaError(code, message string) *TabulonError {
	return New(ErrCategorySchema, code, message)
}

func NewTableError(code, message string) *TabulonError {
	return New(ErrCategoryTable, code, message)
}

func NewQueryError(code, message string) *TabulonError {
	return New(ErrCategoryQuery, code, message)
}

func NewViewError(code, message string) *TabulonError {
	return New(ErrCategoryView, code, message)
}

func NewStorageError(code, message string, cause error) *TabulonError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *TabulonError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
