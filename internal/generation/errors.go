package generation

import "errors"

// Common errors returned by the generation package
var (
	// ErrEmptyCompletion is returned when the service answered without usable
	// text. It is not a rate-limit classification and is never retried.
	ErrEmptyCompletion = errors.New("empty_completion: language model returned no text")

	// ErrEmptyInput is returned when the source text is blank
	ErrEmptyInput = errors.New("source text cannot be empty")

	// ErrUnknownFormat is returned for a format that has no prompt
	ErrUnknownFormat = errors.New("unknown output format")

	// ErrInvalidConfig is returned when the generator configuration is invalid
	ErrInvalidConfig = errors.New("invalid generator configuration")
)
