package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/repurpose/internal/domain"
)

// ErrExtractorUnavailable is returned when the extractor service could not
// produce an answer. It is an infrastructure failure, not an input error.
var ErrExtractorUnavailable = errors.New("source extractor unavailable")

const maxExtractorResponse = 8 << 20

// RemoteAdapter delegates video transcript and article extraction to an
// external HTTP service:
//
//	POST {baseURL}/extract  {"kind":"video","value":"https://..."}
//	200 {"content":"...","metadata":{...}}
//	4xx {"code":"no_captions","message":"..."}
type RemoteAdapter struct {
	kind    domain.SourceKind
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

var _ Adapter = (*RemoteAdapter)(nil)

// NewRemoteAdapter creates an adapter for kind backed by the extractor at
// baseURL. A nil client gets one with timeout.
func NewRemoteAdapter(
	kind domain.SourceKind,
	baseURL string,
	client *http.Client,
	timeout time.Duration,
	logger *slog.Logger,
) *RemoteAdapter {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteAdapter{
		kind:    kind,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger.With(slog.String("component", "remote_source"), slog.String("kind", string(kind))),
	}
}

type extractRequest struct {
	Kind  domain.SourceKind `json:"kind"`
	Value string            `json:"value"`
}

type extractResponse struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

type extractError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Normalize implements Adapter.
func (a *RemoteAdapter) Normalize(ctx context.Context, value string) (*Source, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, domain.NewInputError(a.kind, "empty_input", "a URL is required")
	}

	body, err := json.Marshal(extractRequest{Kind: a.kind, Value: value})
	if err != nil {
		return nil, fmt.Errorf("failed to encode extract request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractorUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxExtractorResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrExtractorUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out extractResponse
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("%w: malformed response: %v", ErrExtractorUnavailable, err)
		}
		content := strings.TrimSpace(out.Content)
		if content == "" {
			return nil, domain.NewInputError(a.kind, "empty_content", "no text could be extracted from the source")
		}
		if out.Metadata == nil {
			out.Metadata = map[string]any{}
		}
		return &Source{Content: content, Metadata: out.Metadata}, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var e extractError
		if err := json.Unmarshal(data, &e); err != nil || e.Code == "" {
			a.logger.WarnContext(ctx, "extractor rejected input without an error code",
				slog.Int("status", resp.StatusCode))
			return nil, domain.NewInputError(a.kind, "unprocessable", "the source could not be processed")
		}
		return nil, domain.NewInputError(a.kind, e.Code, e.Message)

	default:
		return nil, fmt.Errorf("%w: status %d", ErrExtractorUnavailable, resp.StatusCode)
	}
}
