// LOCATION: internal/errors/errors.go
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ErrorToStatus and ErrorCode mapping for the HTTP transport
// - Error wrapping utilities

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Machine-readable error codes - used in JSON error envelopes
// ============================================================================

const (
	CodeUnknown        = "unknown"
	CodeInvalidBatch   = "invalid_batch"
	CodeShapeMismatch  = "shape_mismatch"
	CodeCorrupt        = "corrupt_snapshot"
	CodePersistence    = "persistence_failure"
	CodeBusy           = "busy"
	CodeTooLarge       = "too_large"
	CodeNotReady       = "not_ready"
	CodeInvalidRequest = "invalid_request"
	CodeInternal       = "internal"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Counter errors
	ErrShapeMismatch    = errors.New("shape mismatch")
	ErrNegativeCounter  = errors.New("negative counter")
	ErrInvalidBatch     = errors.New("invalid batch")
	ErrUnknownTable     = errors.New("unknown table")
	ErrCorruptSnapshot  = errors.New("corrupt snapshot")
	ErrCorruptRecord    = errors.New("corrupt journal record")
	ErrPersistence      = errors.New("persistence failure")
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// Validation errors
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingField   = errors.New("missing required field")
	ErrInvalidSchema  = errors.New("invalid schema")
	ErrInvalidAddress = errors.New("invalid address")

	// State errors
	ErrNotReady = errors.New("store not ready")
	ErrClosed   = errors.New("closed")

	// Transport errors
	ErrBusy           = errors.New("too many in-flight submissions")
	ErrTooLarge       = errors.New("request body too large")
	ErrUnexpectedCode = errors.New("unexpected status code")
	ErrTimeout        = errors.New("timeout")

	// Internal errors
	ErrInternal = errors.New("internal error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsBadInput returns true if err was caused by the submitted data rather
// than by the server.
func IsBadInput(err error) bool {
	return errors.Is(err, ErrShapeMismatch) ||
		errors.Is(err, ErrNegativeCounter) ||
		errors.Is(err, ErrInvalidBatch) ||
		errors.Is(err, ErrUnknownTable)
}

// IsCorrupt returns true if err reports undecodable persisted state.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptSnapshot) ||
		errors.Is(err, ErrCorruptRecord)
}

// IsValidation returns true if err is a configuration validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidSchema) ||
		errors.Is(err, ErrInvalidAddress)
}

// IsRetriable returns true if the server refused a submission without
// merging it, so resending cannot count it twice.
//
// A persistence failure is not retriable: the server kept the batch.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrBusy) ||
		errors.Is(err, ErrNotReady) ||
		errors.Is(err, ErrTimeout)
}

// ============================================================================
// Error to transport mapping
// ============================================================================

// ErrorToStatus maps an error to the HTTP status returned to submitters.
func ErrorToStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch {
	case IsBadInput(err):
		return http.StatusBadRequest
	case Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case Is(err, ErrBusy):
		return http.StatusServiceUnavailable
	case Is(err, ErrNotReady), Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode maps an error to its machine-readable code.
func ErrorCode(err error) string {
	if err == nil {
		return CodeUnknown
	}

	switch {
	case Is(err, ErrShapeMismatch), Is(err, ErrUnknownTable):
		return CodeShapeMismatch
	case IsBadInput(err):
		return CodeInvalidBatch
	case IsCorrupt(err):
		return CodeCorrupt
	case Is(err, ErrPersistence):
		return CodePersistence
	case Is(err, ErrBusy):
		return CodeBusy
	case Is(err, ErrTooLarge):
		return CodeTooLarge
	case Is(err, ErrNotReady), Is(err, ErrClosed):
		return CodeNotReady
	case IsValidation(err):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewShapeMismatch reports a table whose shape differs from the schema.
func NewShapeMismatch(table string, want, got int) error {
	return fmt.Errorf("table %q: want %d cells, got %d: %w", table, want, got, ErrShapeMismatch)
}

// NewCorrupt creates a corrupt-snapshot error with context.
func NewCorrupt(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrCorruptSnapshot)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
