package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/phrazzld/repurpose/internal/config"
	"github.com/phrazzld/repurpose/internal/platform/logger"
)

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client            openai.Client
	timeout           time.Duration
	defaultRetryAfter time.Duration
	logger            *slog.Logger
	now               func() time.Time
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client from cfg. The API key is trimmed before
// use and SDK retries are disabled.
func NewOpenAIClient(cfg config.LLMConfig, log *slog.Logger) (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api key cannot be empty", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}

	return &OpenAIClient{
		client:            openai.NewClient(opts...),
		timeout:           cfg.RequestTimeout,
		defaultRetryAfter: cfg.DefaultRetryAfter,
		logger:            log.With(slog.String("component", "llm"), slog.String("provider", ProviderOpenAI)),
		now:               time.Now,
	}, nil
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Model),
		Messages:    openAIMessages(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		classified := c.classify(err)
		logger.FromContextOrDefault(ctx, c.logger).Warn("completion call failed",
			slog.String("kind", string(classified.Kind)),
			slog.Int("status", classified.StatusCode))
		return nil, classified
	}

	resp := &Response{
		Model: completion.Model,
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) > 0 {
		resp.Text = completion.Choices[0].Message.Content
	}
	return resp, nil
}

func (c *OpenAIClient) classify(err error) *Error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return classifyTransport(err)
	}

	msg := apiErr.Message
	if msg == "" {
		msg = http.StatusText(apiErr.StatusCode)
	}
	e := &Error{
		Kind:       kindForStatus(apiErr.StatusCode),
		StatusCode: apiErr.StatusCode,
		Message:    msg,
		Err:        err,
	}
	if e.Kind == KindRateLimited {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		e.RetryAfter = retryAfter(c.defaultRetryAfter,
			func() (time.Duration, bool) { return ParseRetryAfterHeader(header, c.now()) },
			func() (time.Duration, bool) { return ParseRetryAfterText(msg) },
		)
	}
	return e
}

func openAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
