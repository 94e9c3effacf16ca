package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/phrazzld/repurpose/internal/api/shared"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/store"
)

// classify maps store errors that escape the services onto domain errors.
func classify(err error) error {
	if domain.CodeOf(err) == domain.CodeInternal && errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	return err
}

// MapErrorToStatusCode maps an error to its HTTP status via the stable error
// code, so internal error types never leak to clients.
func MapErrorToStatusCode(err error) int {
	switch domain.CodeOf(classify(err)) {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	case domain.CodeQuotaExceeded:
		return http.StatusPaymentRequired
	case domain.CodeInputError:
		return http.StatusUnprocessableEntity
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-safe message for err. Validation and
// input errors are written for the caller and are returned as-is; anything
// unclassified gets a generic message.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var (
		validationErr *domain.ValidationError
		inputErr      *domain.InputError
	)
	switch {
	case errors.As(err, &validationErr):
		if validationErr.Field == "" {
			return validationErr.Message
		}
		return validationErr.Field + ": " + validationErr.Message
	case errors.As(err, &inputErr):
		return inputErr.Message
	}

	switch domain.CodeOf(classify(err)) {
	case domain.CodeValidation:
		return "Invalid request"
	case domain.CodeRateLimited:
		return "Too many requests, retry later"
	case domain.CodeQuotaExceeded:
		return "Monthly conversion quota exceeded"
	case domain.CodeNotFound:
		return "Conversion not found"
	case domain.CodeUnauthorized:
		return "Unauthorized"
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the error envelope for err. A non-empty message
// replaces the default safe message.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	err = classify(err)
	status := MapErrorToStatusCode(err)
	if message == "" {
		message = GetSafeErrorMessage(err)
	}

	var opts []shared.ResponseOption
	if retryAfter, ok := domain.RetryAfterOf(err); ok {
		opts = append(opts, shared.WithRetryAfter(retryAfter))
	}
	var inputErr *domain.InputError
	if errors.As(err, &inputErr) {
		opts = append(opts, shared.WithInputCode(inputErr.Code))
	}

	shared.RespondWithErrorAndLog(w, r, status, string(domain.CodeOf(err)), message, err, opts...)
}
