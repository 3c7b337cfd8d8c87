// Package errors provides structured error types for docrel.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategorySchema     ErrorCategory = "SCHEMA"
	ErrCategoryStructure  ErrorCategory = "STRUCTURE"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryJournal    ErrorCategory = "JOURNAL"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidDocument   = "INVALID_DOCUMENT"
	CodeInvalidCollection = "INVALID_COLLECTION"
	CodeEmptyBatch        = "EMPTY_BATCH"

	// Schema codes
	CodeIdentifierCollision = "IDENTIFIER_COLLISION"
	CodeUnknownTable        = "UNKNOWN_TABLE"

	// Structure codes
	CodeContractViolation = "CONTRACT_VIOLATION"
	CodeUnsupportedValue  = "UNSUPPORTED_VALUE"
	CodeStreamOrder       = "STREAM_ORDER"

	// Storage codes
	CodeBusy           = "BUSY"
	CodeQueryFailed    = "QUERY_FAILED"
	CodeWriteFailed    = "WRITE_FAILED"
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Journal codes
	CodeAppendFailed       = "APPEND_FAILED"
	CodeCorruptionDetected = "CORRUPTION_DETECTED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// DocrelError is the structured error type used throughout the system.
type DocrelError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *DocrelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *DocrelError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *DocrelError) Is(target error) bool {
	var t *DocrelError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new DocrelError.
func New(category ErrorCategory, code, message string) *DocrelError {
	return &DocrelError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new DocrelError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *DocrelError {
	return &DocrelError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DocrelError) WithDetails(details map[string]interface{}) *DocrelError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var de *DocrelError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a DocrelError.
func GetCategory(err error) ErrorCategory {
	var de *DocrelError
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a DocrelError.
func GetCode(err error) string {
	var de *DocrelError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsFatal reports whether err signals a broken input tree or schema
// collision rather than a data or I/O problem.
func IsFatal(err error) bool {
	switch GetCategory(err) {
	case ErrCategorySchema, ErrCategoryStructure:
		return true
	default:
		return false
	}
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeBusy:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *DocrelError {
	return New(ErrCategoryValidation, code, message)
}

func NewCollisionError(identifier, existing, requested string) *DocrelError {
	return New(ErrCategorySchema, CodeIdentifierCollision,
		fmt.Sprintf("identifier %q for %s already used by %s", identifier, requested, existing))
}

func NewContractError(format string, args ...interface{}) *DocrelError {
	return New(ErrCategoryStructure, CodeContractViolation, fmt.Sprintf(format, args...))
}

func NewStructureError(code, message string, cause error) *DocrelError {
	return Wrap(ErrCategoryStructure, code, message, cause)
}

func NewStorageError(code, message string, cause error) *DocrelError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewJournalError(code, message string, cause error) *DocrelError {
	return Wrap(ErrCategoryJournal, code, message, cause)
}

func NewInternalError(message string, cause error) *DocrelError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
