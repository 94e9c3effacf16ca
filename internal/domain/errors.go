package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode is the stable, client-visible identifier of an error class.
type ErrorCode string

// Stable error codes surfaced to callers
const (
	CodeValidation    ErrorCode = "validation_error"
	CodeRateLimited   ErrorCode = "rate_limited"
	CodeQuotaExceeded ErrorCode = "quota_exceeded"
	CodeInputError    ErrorCode = "input_error"
	CodeNotFound      ErrorCode = "not_found"
	CodeUnauthorized  ErrorCode = "unauthorized"
	CodeInternal      ErrorCode = "internal_error"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a request or entity fails validation.
	// It is usually wrapped by a *ValidationError naming the field.
	ErrValidation = errors.New("validation failed")

	// ErrRateLimited is returned when the caller exceeded the admission rate.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrQuotaExceeded is returned when the caller used up the monthly quota.
	ErrQuotaExceeded = errors.New("monthly conversion quota exceeded")

	// ErrInputRejected is returned when an input adapter refused the source.
	ErrInputRejected = errors.New("input rejected")

	// ErrNotFound is returned when a conversion does not exist or is not
	// visible to the caller.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when credentials are missing or wrong.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidTransition is returned when a status change is not allowed
	// by the conversion state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError describes a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrValidation, e.Message)
	}
	return fmt.Sprintf("%v: %s: %s", ErrValidation, e.Field, e.Message)
}

// Unwrap returns ErrValidation so callers can use errors.Is.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// RateLimitError is returned by admission when the caller is throttled.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v: retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

// Unwrap returns ErrRateLimited.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// QuotaExceededError carries the usage numbers that caused the rejection.
type QuotaExceededError struct {
	Plan  string
	Used  int
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%v: %d of %d conversions used on plan %s", ErrQuotaExceeded, e.Used, e.Limit, e.Plan)
}

// Unwrap returns ErrQuotaExceeded.
func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// InputError is raised by a source adapter. Code is adapter specific
// (e.g. "no_captions", "paywalled") and is surfaced to the caller verbatim.
type InputError struct {
	Kind    SourceKind
	Code    string
	Message string
}

// NewInputError creates an InputError.
func NewInputError(kind SourceKind, code, message string) *InputError {
	return &InputError{Kind: kind, Code: code, Message: message}
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%v (%s/%s): %s", ErrInputRejected, e.Kind, e.Code, e.Message)
}

// Unwrap returns ErrInputRejected.
func (e *InputError) Unwrap() error { return ErrInputRejected }

// CodeOf returns the stable code for err.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrQuotaExceeded):
		return CodeQuotaExceeded
	case errors.Is(err, ErrInputRejected):
		return CodeInputError
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	default:
		return CodeInternal
	}
}

// RetryAfterOf returns the retry hint carried by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
