package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidConfig is returned when a client cannot be built from its config.
var ErrInvalidConfig = errors.New("invalid llm configuration")

// Kind classifies a failed completion call.
type Kind string

// Failure classifications
const (
	KindRateLimited        Kind = "rate_limited"
	KindUnauthenticated    Kind = "unauthenticated"
	KindServiceUnavailable Kind = "service_unavailable"
	KindGenericAPIError    Kind = "generic_api_error"
)

// Error is a classified completion failure.
type Error struct {
	Kind Kind
	// RetryAfter is set for KindRateLimited: the service's hint, or the
	// configured default when the hint could not be parsed.
	RetryAfter time.Duration
	// StatusCode is the HTTP status, 0 for transport failures.
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindRateLimited {
		return fmt.Sprintf("llm %s (retry after %s): %s", e.Kind, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("llm %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying SDK or transport error.
func (e *Error) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a rate-limit classification.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

// KindOf returns the classification of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// kindForStatus maps an HTTP status to a classification.
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindUnauthenticated
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout, status == http.StatusInternalServerError:
		return KindServiceUnavailable
	default:
		return KindGenericAPIError
	}
}

// classifyTransport wraps an error that carries no HTTP status. Context
// errors stay reachable through errors.Is so callers can tell shutdown from
// a service failure.
func classifyTransport(err error) *Error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindGenericAPIError, Message: err.Error(), Err: err}
	case errors.As(err, &netErr):
		return &Error{Kind: KindServiceUnavailable, Message: err.Error(), Err: err}
	default:
		return &Error{Kind: KindGenericAPIError, Message: err.Error(), Err: err}
	}
}

var retryInTextPattern = regexp.MustCompile(`(?i)(?:try again|retry) in\s+((?:\d+(?:\.\d+)?(?:ms|h|m|s))+)`)

// ParseRetryAfterText extracts a delay from messages such as
// "Please try again in 7.5s" or "try again in 1m2.5s".
func ParseRetryAfterText(msg string) (time.Duration, bool) {
	m := retryInTextPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	d, err := time.ParseDuration(strings.ToLower(m[1]))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// ParseRetryAfterHeader reads the retry-after-ms or Retry-After headers.
// Retry-After may be delta seconds or an HTTP date.
func ParseRetryAfterHeader(h http.Header, now time.Time) (time.Duration, bool) {
	if h == nil {
		return 0, false
	}
	if v := strings.TrimSpace(h.Get("Retry-After-Ms")); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil && ms > 0 {
			return time.Duration(ms * float64(time.Millisecond)), true
		}
	}

	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}

// retryAfter picks the first usable hint, falling back to def.
func retryAfter(def time.Duration, hints ...func() (time.Duration, bool)) time.Duration {
	for _, hint := range hints {
		if d, ok := hint(); ok {
			return d
		}
	}
	return def
}
