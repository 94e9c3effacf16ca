package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/generation"
	"github.com/phrazzld/repurpose/internal/platform/llm"
	"github.com/phrazzld/repurpose/internal/platform/logger"
	"github.com/phrazzld/repurpose/internal/redact"
	"github.com/phrazzld/repurpose/internal/store"
)

// PartialOutputs decides what happens to outputs already written when a
// conversion fails.
type PartialOutputs string

// Partial output policies
const (
	// RetainPartialOutputs keeps formats generated before the failure.
	RetainPartialOutputs PartialOutputs = "retain"
	// DiscardPartialOutputs deletes first-pass outputs of a failed conversion.
	DiscardPartialOutputs PartialOutputs = "discard"
)

// Policy paces and bounds the generation of one conversion.
type Policy struct {
	// InitialDelay is waited once before the first call.
	InitialDelay time.Duration
	// InterFormatDelay is waited between two successful formats.
	InterFormatDelay time.Duration
	// RetryBackoff is waited before retrying a rate-limited call.
	RetryBackoff time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries     int
	PartialOutputs PartialOutputs
}

// DefaultPolicy returns the production pacing.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay:     5 * time.Second,
		InterFormatDelay: 20 * time.Second,
		RetryBackoff:     30 * time.Second,
		MaxRetries:       2,
		PartialOutputs:   RetainPartialOutputs,
	}
}

// Validate checks the policy values.
func (p Policy) Validate() error {
	if p.InitialDelay < 0 || p.InterFormatDelay < 0 || p.RetryBackoff < 0 {
		return fmt.Errorf("%w: delays cannot be negative", ErrInvalidPolicy)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries cannot be negative", ErrInvalidPolicy)
	}
	switch p.PartialOutputs {
	case RetainPartialOutputs, DiscardPartialOutputs:
	default:
		return fmt.Errorf("%w: unknown partial output policy %q", ErrInvalidPolicy, p.PartialOutputs)
	}
	return nil
}

// Orchestrator implements Runner.
type Orchestrator struct {
	conversions store.ConversionStore
	outputs     store.OutputStore
	generator   generation.Generator
	policy      Policy
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
	logger      *slog.Logger
}

var _ Runner = (*Orchestrator)(nil)

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithSleep replaces the pacing wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) OrchestratorOption {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	conversions store.ConversionStore,
	outputs store.OutputStore,
	generator generation.Generator,
	policy Policy,
	log *slog.Logger,
	opts ...OrchestratorOption,
) (*Orchestrator, error) {
	if conversions == nil || outputs == nil {
		return nil, ErrNilStore
	}
	if generator == nil {
		return nil, ErrNilGenerator
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	o := &Orchestrator{
		conversions: conversions,
		outputs:     outputs,
		generator:   generator,
		policy:      policy,
		sleep:       sleepContext,
		now:         time.Now,
		logger:      log.With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run claims the conversion and generates every format in order. A
// conversion that is not pending is left untouched and its current state is
// returned, so duplicate triggers are harmless.
func (o *Orchestrator) Run(ctx context.Context, conversionID uuid.UUID) (domain.ConversionStatus, error) {
	log := logger.FromContextOrDefault(ctx, o.logger).With("conversion_id", conversionID)

	c, claimed, err := o.conversions.ClaimPending(ctx, conversionID, o.now().UTC())
	if err != nil {
		log.ErrorContext(ctx, "failed to claim conversion", "error", err)
		return "", fmt.Errorf("failed to claim conversion: %w", err)
	}
	if !claimed {
		log.InfoContext(ctx, "conversion not pending, nothing to do", "status", c.Status)
		return c.Status, nil
	}

	log.InfoContext(ctx, "conversion claimed, starting generation",
		"source_kind", c.SourceKind,
		"tone", c.Tone)

	if err := o.sleep(ctx, o.policy.InitialDelay); err != nil {
		return o.fail(ctx, log, c, "", fmt.Errorf("generation interrupted: %w", err))
	}

	for i, format := range domain.Formats {
		if i > 0 {
			if err := o.sleep(ctx, o.policy.InterFormatDelay); err != nil {
				return o.fail(ctx, log, c, format, fmt.Errorf("generation interrupted: %w", err))
			}
		}

		flog := log.With("format", format)
		result, err := o.generateFormat(ctx, flog, c, format)
		if err != nil {
			return o.fail(ctx, log, c, format, err)
		}

		output, err := domain.NewOutput(c.ID, format, result.Text, result.Usage.TotalTokens)
		if err != nil {
			return o.fail(ctx, log, c, format, fmt.Errorf("invalid output: %w", err))
		}
		created, err := o.outputs.CreateIfAbsent(ctx, output)
		if err != nil {
			return o.fail(ctx, log, c, format, fmt.Errorf("failed to save output: %w", err))
		}

		flog.InfoContext(ctx, "format generated",
			"created", created,
			"total_tokens", result.Usage.TotalTokens,
			"model", result.Model,
			"truncated", result.Truncated)
	}

	if err := o.conversions.MarkCompleted(ctx, c.ID, o.now().UTC()); err != nil {
		return o.settle(ctx, log, c.ID, "failed to mark conversion completed", err)
	}

	log.InfoContext(ctx, "conversion completed")
	return domain.StatusCompleted, nil
}

// generateFormat calls the generator up to 1+MaxRetries times. Only
// rate-limit classifications are retried; everything else ends the loop.
func (o *Orchestrator) generateFormat(
	ctx context.Context,
	log *slog.Logger,
	c *domain.Conversion,
	format domain.Format,
) (*generation.Result, error) {
	input := generation.Input{
		Text:   c.SourceText,
		Kind:   c.SourceKind,
		Format: format,
		Tone:   c.Tone,
		Topics: c.Topics,
	}

	attempts := 1 + o.policy.MaxRetries
	for attempt := 1; ; attempt++ {
		result, err := o.generator.Generate(ctx, input)
		if err == nil {
			return result, nil
		}

		alog := log.With("attempt", attempt, "max_attempts", attempts)
		if ctx.Err() != nil {
			alog.WarnContext(ctx, "generation interrupted", "error", redact.Error(err))
			return nil, err
		}
		if !generation.IsRetryable(err) {
			alog.ErrorContext(ctx, "generation failed, not retryable",
				"error", redact.Error(err),
				"kind", llm.KindOf(err))
			return nil, err
		}
		if attempt >= attempts {
			alog.ErrorContext(ctx, "generation rate limited, retries exhausted", "error", redact.Error(err))
			return nil, err
		}

		hint := time.Duration(0)
		var llmErr *llm.Error
		if errors.As(err, &llmErr) {
			hint = llmErr.RetryAfter
		}
		alog.WarnContext(ctx, "generation rate limited, backing off",
			"backoff", o.policy.RetryBackoff,
			"retry_after_hint", hint)

		if err := o.sleep(ctx, o.policy.RetryBackoff); err != nil {
			return nil, fmt.Errorf("generation interrupted: %w", err)
		}
	}
}

// fail records cause on the conversion and applies the partial output
// policy. The state changes use a context detached from ctx so that a
// timed-out run still leaves a terminal record.
func (o *Orchestrator) fail(
	ctx context.Context,
	log *slog.Logger,
	c *domain.Conversion,
	format domain.Format,
	cause error,
) (domain.ConversionStatus, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	message := redact.Message(cause)
	if format != "" {
		message = fmt.Sprintf("%s: %s", format, message)
	}

	if o.policy.PartialOutputs == DiscardPartialOutputs {
		n, err := o.outputs.DeleteFirstPass(wctx, c.ID)
		if err != nil {
			log.ErrorContext(ctx, "failed to discard partial outputs", "error", err)
		} else if n > 0 {
			log.InfoContext(ctx, "discarded partial outputs", "count", n)
		}
	}

	if err := o.conversions.MarkFailed(wctx, c.ID, message, o.now().UTC()); err != nil {
		return o.settle(wctx, log, c.ID, "failed to mark conversion failed", err)
	}

	log.WarnContext(ctx, "conversion failed", "format", format, "error", message)
	return domain.StatusFailed, nil
}

// settle handles a rejected terminal transition. A status conflict means
// another actor (the reaper or a duplicate run) already finished the
// conversion; its state is reported instead.
func (o *Orchestrator) settle(
	ctx context.Context,
	log *slog.Logger,
	id uuid.UUID,
	msg string,
	err error,
) (domain.ConversionStatus, error) {
	if errors.Is(err, store.ErrStatusConflict) {
		if current, getErr := o.conversions.GetByID(ctx, id); getErr == nil {
			log.WarnContext(ctx, "conversion finished elsewhere", "status", current.Status)
			return current.Status, nil
		}
	}
	log.ErrorContext(ctx, msg, "error", err)
	return "", fmt.Errorf("%s: %w", msg, err)
}
