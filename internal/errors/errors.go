// Package errors provides the consolidated error definitions for pulse.
//
// This package provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - HTTP status mapping for the API surface
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Validation errors
	ErrInvalidPoint  = errors.New("invalid point: value must be finite")
	ErrInvalidKey    = errors.New("invalid key")
	ErrInvalidRange  = errors.New("invalid time range")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")

	// Not found errors
	ErrNotFound = errors.New("not found")

	// State errors
	ErrShutdown       = errors.New("service is shut down")
	ErrAlreadyRunning = errors.New("service already running")

	// Resource errors
	ErrBufferFull   = errors.New("buffer full")
	ErrBackpressure = errors.New("rejected due to backpressure")

	// Internal errors
	ErrInternal = errors.New("internal error")
	ErrStorage  = errors.New("storage error")
	ErrTimeout  = errors.New("timeout")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidPoint) ||
		errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField)
}

// IsRetriable returns true if the error is potentially retriable.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrBufferFull) ||
		errors.Is(err, ErrStorage)
}

// ============================================================================
// HTTP status mapping
// ============================================================================

// HTTPStatus maps an error to the HTTP status code the API surfaces.
// Unknown keys on queries are empty results, not errors; ErrNotFound
// only reaches this mapping for resources that genuinely must exist.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case Is(err, ErrBackpressure), Is(err, ErrBufferFull), Is(err, ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
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

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType string, identifier interface{}) error {
	return fmt.Errorf("%s '%v': %w", entityType, identifier, ErrNotFound)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}
