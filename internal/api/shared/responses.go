package shared

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/phrazzld/repurpose/internal/platform/logger"
	"github.com/phrazzld/repurpose/internal/redact"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	// Code is the stable error code (e.g. "quota_exceeded").
	Code string `json:"code"`
	// InputCode is the source adapter's own code for input errors
	// (e.g. "no_captions").
	InputCode         string `json:"input_code,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	TraceID           string `json:"trace_id,omitempty"`
}

// ResponseOption customizes an error response.
type ResponseOption func(*responseOptions)

type responseOptions struct {
	elevateLogLevel bool
	retryAfter      time.Duration
	inputCode       string
}

// WithElevatedLogLevel logs a 4xx response at WARN instead of DEBUG.
func WithElevatedLogLevel() ResponseOption {
	return func(opts *responseOptions) {
		opts.elevateLogLevel = true
	}
}

// WithRetryAfter adds retry_after_seconds and the Retry-After header. The
// value is rounded up to whole seconds, minimum one.
func WithRetryAfter(d time.Duration) ResponseOption {
	return func(opts *responseOptions) {
		opts.retryAfter = d
	}
}

// WithInputCode adds the source adapter's error code.
func WithInputCode(code string) ResponseOption {
	return func(opts *responseOptions) {
		opts.inputCode = code
	}
}

// RetryAfterSeconds converts d to the whole seconds sent to clients.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RespondWithJSON writes a JSON response with the given status code and data.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context()).Error("failed to encode JSON response", "error", err)
	}
}

// RespondWithError writes an error envelope without an underlying error to log.
func RespondWithError(
	w http.ResponseWriter,
	r *http.Request,
	status int,
	code string,
	message string,
	opts ...ResponseOption,
) {
	RespondWithErrorAndLog(w, r, status, code, message, nil, opts...)
}

// RespondWithErrorAndLog writes an error envelope carrying only the safe
// message and logs the redacted underlying error.
//
// Log level strategy:
// - 5xx errors: ERROR
// - 429 Too Many Requests: WARN
// - other 4xx: DEBUG, or WARN with WithElevatedLogLevel
func RespondWithErrorAndLog(
	w http.ResponseWriter,
	r *http.Request,
	status int,
	code string,
	userMessage string,
	err error,
	opts ...ResponseOption,
) {
	responseOpts := responseOptions{}
	for _, opt := range opts {
		opt(&responseOpts)
	}

	traceID := GetTraceID(r.Context())
	body := ErrorResponse{
		Error:     userMessage,
		Code:      code,
		InputCode: responseOpts.inputCode,
		TraceID:   traceID,
	}
	if responseOpts.retryAfter > 0 {
		body.RetryAfterSeconds = RetryAfterSeconds(responseOpts.retryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfterSeconds))
	}

	logAttrs := []slog.Attr{
		slog.String("trace_id", traceID),
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
		slog.Int("status_code", status),
		slog.String("code", code),
		slog.String("user_message", userMessage),
	}
	if err != nil {
		logAttrs = append(logAttrs,
			slog.String("error", redact.Error(err)),
			slog.String("error_type", fmt.Sprintf("%T", err)))
	}

	logLevel := slog.LevelDebug
	switch {
	case status >= http.StatusInternalServerError:
		logLevel = slog.LevelError
	case status == http.StatusTooManyRequests:
		logLevel = slog.LevelWarn
	case responseOpts.elevateLogLevel && status >= http.StatusBadRequest:
		logLevel = slog.LevelWarn
	}

	logger.FromContext(r.Context()).LogAttrs(r.Context(), logLevel, "API error response", logAttrs...)

	RespondWithJSON(w, r, status, body)
}
