// Package service implements the conversion use cases: admission, usage
// accounting and the status read model.
package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/store"
)

// Common service errors - sentinel errors used across service implementations.
// These errors represent common conditions that callers may want to check for with errors.Is().
//
// Error handling principles:
// 1. Expected conditions are domain errors (validation, rate limit, quota, input)
// 2. Unexpected errors are wrapped in *ServiceError
// 3. Callers use errors.Is/errors.As to check for specific error conditions
// 4. The API layer maps service errors to appropriate HTTP status codes
var (
	// ErrConversionNotFound indicates that the conversion does not exist or
	// belongs to another user. The two cases are deliberately indistinguishable.
	ErrConversionNotFound = fmt.Errorf("%w: conversion", domain.ErrNotFound)

	// ErrInvalidDependency is returned by constructors given a nil collaborator.
	ErrInvalidDependency = errors.New("invalid service dependency")
)

// ServiceError wraps unexpected failures with the operation that hit them.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "admit", "get_status")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError wraps err for operation. Domain errors that callers act on
// are returned unchanged and store not-found errors become
// ErrConversionNotFound.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, store.ErrConversionNotFound):
		return ErrConversionNotFound
	case domain.CodeOf(err) != domain.CodeInternal:
		return err
	}

	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

func nilDependency(operation, name string) error {
	return &ServiceError{
		Operation: operation,
		Message:   name + " cannot be nil",
		Err:       ErrInvalidDependency,
	}
}
