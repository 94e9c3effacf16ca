package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/repurpose/internal/config"
	"github.com/phrazzld/repurpose/internal/platform/logger"
	"google.golang.org/genai"
)

// GeminiClient calls the Gemini generateContent API.
type GeminiClient struct {
	client            *genai.Client
	timeout           time.Duration
	defaultRetryAfter time.Duration
	logger            *slog.Logger
}

var _ Client = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini client from cfg.
//
// Parameters:
//   - ctx: Context passed to the SDK constructor
//   - cfg: LLM configuration; the API key is trimmed before use
//   - log: Logger, slog.Default() when nil
//
// Returns:
//   - The client, or an error wrapping ErrInvalidConfig
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, log *slog.Logger) (*GeminiClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api key cannot be empty", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.Default()
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return &GeminiClient{
		client:            client,
		timeout:           cfg.RequestTimeout,
		defaultRetryAfter: cfg.DefaultRetryAfter,
		logger:            log.With(slog.String("component", "llm"), slog.String("provider", ProviderGemini)),
	}, nil
}

// Complete implements Client. System messages become the system instruction;
// the remaining messages are sent as contents.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var (
		system   []string
		contents []*genai.Content
	)
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(system) > 0 {
		genConfig.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	result, err := c.client.Models.GenerateContent(ctx, req.Model, contents, genConfig)
	if err != nil {
		classified := c.classify(err)
		logger.FromContextOrDefault(ctx, c.logger).Warn("completion call failed",
			slog.String("kind", string(classified.Kind)),
			slog.Int("status", classified.StatusCode))
		return nil, classified
	}

	resp := &Response{Model: req.Model}
	if result != nil {
		resp.Text = result.Text()
		if result.ModelVersion != "" {
			resp.Model = result.ModelVersion
		}
		if u := result.UsageMetadata; u != nil {
			resp.Usage = Usage{
				PromptTokens:     int(u.PromptTokenCount),
				CompletionTokens: int(u.CandidatesTokenCount),
				TotalTokens:      int(u.TotalTokenCount),
			}
		}
	}
	return resp, nil
}

func (c *GeminiClient) classify(err error) *Error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return classifyTransport(err)
	}

	msg := apiErr.Message
	if msg == "" {
		msg = http.StatusText(apiErr.Code)
	}
	kind := kindForStatus(apiErr.Code)
	if apiErr.Status == "RESOURCE_EXHAUSTED" {
		kind = KindRateLimited
	}

	e := &Error{Kind: kind, StatusCode: apiErr.Code, Message: msg, Err: err}
	if kind == KindRateLimited {
		e.RetryAfter = retryAfter(c.defaultRetryAfter,
			func() (time.Duration, bool) { return retryDelayFromDetails(apiErr.Details) },
			func() (time.Duration, bool) { return ParseRetryAfterText(msg) },
		)
	}
	return e
}

// retryDelayFromDetails reads google.rpc.RetryInfo.retryDelay ("7s", "1.5s").
func retryDelayFromDetails(details []map[string]any) (time.Duration, bool) {
	for _, d := range details {
		typ, _ := d["@type"].(string)
		if !strings.HasSuffix(typ, "google.rpc.RetryInfo") {
			continue
		}
		raw, _ := d["retryDelay"].(string)
		if delay, err := time.ParseDuration(raw); err == nil && delay > 0 {
			return delay, true
		}
	}
	return 0, false
}
