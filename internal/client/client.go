// Package client is a Go client for the conversion API, including the
// bounded status poll used by the CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/api"
	"github.com/phrazzld/repurpose/internal/api/shared"
	"github.com/phrazzld/repurpose/internal/domain"
)

// Polling defaults: 60 polls 3 seconds apart.
const (
	DefaultPollInterval    = 3 * time.Second
	DefaultPollMaxAttempts = 60
)

// ErrPollTimeout is returned by Wait when the conversion is still running
// after the last poll. The server-side job is unaffected.
var ErrPollTimeout = errors.New("conversion did not finish before polling gave up")

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	InputCode  string
	RetryAfter time.Duration
	TraceID    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	return msg
}

// Unwrap maps the stable code back to the domain sentinel so callers can use
// errors.Is(err, domain.ErrQuotaExceeded) and friends.
func (e *APIError) Unwrap() error {
	switch domain.ErrorCode(e.Code) {
	case domain.CodeValidation:
		return domain.ErrValidation
	case domain.CodeRateLimited:
		return domain.ErrRateLimited
	case domain.CodeQuotaExceeded:
		return domain.ErrQuotaExceeded
	case domain.CodeInputError:
		return domain.ErrInputRejected
	case domain.CodeNotFound:
		return domain.ErrNotFound
	case domain.CodeUnauthorized:
		return domain.ErrUnauthorized
	default:
		return nil
	}
}

// Client talks to the conversion API with a caller's bearer token.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New constructs a client for baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create submits a conversion request.
func (c *Client) Create(ctx context.Context, req api.CreateConversionRequest) (*api.CreateConversionResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	var res api.CreateConversionResponse
	if err := c.do(ctx, http.MethodPost, "/api/conversions", payload, http.StatusAccepted, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Status fetches the current state of a conversion.
func (c *Client) Status(ctx context.Context, id uuid.UUID) (*api.ConversionStatusResponse, error) {
	var res api.ConversionStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/conversions/"+id.String(), nil, http.StatusOK, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Usage fetches the caller's usage snapshot.
func (c *Client) Usage(ctx context.Context) (*domain.UsageSnapshot, error) {
	var res domain.UsageSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/usage", nil, http.StatusOK, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, want int, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != want {
		return decodeAPIError(resp, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response, body []byte) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var envelope shared.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		apiErr.Message = envelope.Error
		apiErr.Code = envelope.Code
		apiErr.InputCode = envelope.InputCode
		apiErr.TraceID = envelope.TraceID
		if envelope.RetryAfterSeconds > 0 {
			apiErr.RetryAfter = time.Duration(envelope.RetryAfterSeconds) * time.Second
		}
	}
	if apiErr.RetryAfter == 0 {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}
