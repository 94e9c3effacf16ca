// Package llm wraps single completion calls against the external model service
// and classifies their failures.
//
// Two backends are provided: an OpenAI-compatible chat completions client
// (OpenAI, Groq and other compatible endpoints) and a Gemini client. Neither
// retries internally; retry policy belongs to the caller, which needs to see
// every rate-limit classification to keep its backoff accounting coherent.
package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/repurpose/internal/config"
)

// Role is the author of a chat message.
type Role string

// Message roles
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a completion conversation.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Usage holds the token counters reported by the service. Counters are zero
// when the service did not report usage.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is a successful completion.
type Response struct {
	Text  string
	Usage Usage
	Model string
}

// Client performs one completion call. Failures are returned as *Error.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Provider names
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// NewClient builds the backend selected by cfg.Provider.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (Client, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(cfg, logger)
	case ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
