package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/platform/llm"
	"github.com/phrazzld/repurpose/internal/platform/logger"
)

// DefaultMaxInputChars is the source budget used when none is configured.
const DefaultMaxInputChars = 20000

// Input is what one format generation needs.
type Input struct {
	Text   string
	Kind   domain.SourceKind
	Format domain.Format
	Tone   domain.Tone
	Topics []string
}

// Result is one generated artifact.
type Result struct {
	Format    domain.Format
	Text      string
	Usage     llm.Usage
	Model     string
	Truncated bool
}

// Generator produces the text for one output format.
// This interface is the boundary between the orchestrator and the external
// completion service.
type Generator interface {
	// Generate renders the format prompt, calls the model and returns the
	// trimmed text. Completion failures are returned wrapped so that
	// llm.KindOf and llm.IsRateLimited still classify them.
	Generate(ctx context.Context, in Input) (*Result, error)
}

// Config configures an LLMGenerator.
type Config struct {
	Model         string
	MaxInputChars int
}

// LLMGenerator implements Generator on top of an llm.Client.
type LLMGenerator struct {
	client  llm.Client
	catalog *Catalog
	tokens  *TokenEstimator
	cfg     Config
	logger  *slog.Logger
}

var _ Generator = (*LLMGenerator)(nil)

// NewGenerator creates a generator. A nil catalog loads the embedded one and
// a nil token estimator uses the character heuristic.
func NewGenerator(
	client llm.Client,
	catalog *Catalog,
	tokens *TokenEstimator,
	cfg Config,
	log *slog.Logger,
) (*LLMGenerator, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: llm client cannot be nil", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%w: model cannot be empty", ErrInvalidConfig)
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxInputChars
	}
	if catalog == nil {
		var err error
		if catalog, err = LoadCatalog(); err != nil {
			return nil, err
		}
	}
	if tokens == nil {
		tokens = NewHeuristicTokenEstimator()
	}
	if log == nil {
		log = slog.Default()
	}

	return &LLMGenerator{
		client:  client,
		catalog: catalog,
		tokens:  tokens,
		cfg:     cfg,
		logger:  log.With(slog.String("component", "generator")),
	}, nil
}

// Generate implements Generator.
func (g *LLMGenerator) Generate(ctx context.Context, in Input) (*Result, error) {
	log := logger.FromContextOrDefault(ctx, g.logger).With(slog.String("format", string(in.Format)))

	source := strings.TrimSpace(in.Text)
	if source == "" {
		return nil, ErrEmptyInput
	}
	source, truncated := Truncate(source, g.cfg.MaxInputChars)
	if truncated {
		log.Info("source truncated", slog.Int("max_chars", g.cfg.MaxInputChars))
	}

	prompt, err := g.catalog.Render(in.Format, PromptData{
		Tone:   in.Tone,
		Kind:   in.Kind,
		Topics: in.Topics,
		Source: source,
	})
	if err != nil {
		return nil, err
	}

	estimate := 0
	for _, m := range prompt.Messages {
		estimate += g.tokens.Count(m.Content)
	}
	log.Debug("calling language model",
		slog.String("model", g.cfg.Model),
		slog.Int("estimated_prompt_tokens", estimate),
		slog.Bool("exact_estimate", g.tokens.Exact()))

	resp, err := g.client.Complete(ctx, llm.Request{
		Model:       g.cfg.Model,
		Messages:    prompt.Messages,
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", in.Format, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: format %s", ErrEmptyCompletion, in.Format)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: format %s", ErrEmptyCompletion, in.Format)
	}

	usage := resp.Usage
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return &Result{
		Format:    in.Format,
		Text:      text,
		Usage:     usage,
		Model:     resp.Model,
		Truncated: truncated,
	}, nil
}

// IsRetryable reports whether a Generate error is a rate-limit
// classification. Everything else is fatal for the job.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, ErrEmptyCompletion) && llm.IsRateLimited(err)
}
