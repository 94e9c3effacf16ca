package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/events"
	"github.com/phrazzld/repurpose/internal/platform/logger"
	"github.com/phrazzld/repurpose/internal/ratelimit"
	"github.com/phrazzld/repurpose/internal/source"
	"github.com/phrazzld/repurpose/internal/store"
)

// RateLimiter is the admission throttle.
type RateLimiter interface {
	Allow(key string) ratelimit.Decision
}

// SourceNormalizer turns raw input into source text.
type SourceNormalizer interface {
	Normalize(ctx context.Context, kind domain.SourceKind, value string) (*source.Source, error)
}

// AdmissionRequest is a conversion request as received from the caller.
type AdmissionRequest struct {
	UserID uuid.UUID
	// RateLimitKey overrides the limiter key; empty means "user:<UserID>".
	RateLimitKey string
	SourceKind   string
	InputValue   string
	Tone         string
	Topics       []string
}

// Admission is the result of an admitted request.
type Admission struct {
	ConversionID   uuid.UUID
	State          domain.ConversionStatus
	SourceMetadata map[string]any
	Usage          domain.UsageSnapshot
}

// AdmissionService creates conversions.
type AdmissionService struct {
	tx      store.TxRunner
	usage   *UsageAccountant
	limiter RateLimiter
	sources SourceNormalizer
	emitter events.EventEmitter
	logger  *slog.Logger
}

// NewAdmissionService creates an AdmissionService.
// It returns an error if any of the required dependencies are nil.
func NewAdmissionService(
	tx store.TxRunner,
	usage *UsageAccountant,
	limiter RateLimiter,
	sources SourceNormalizer,
	emitter events.EventEmitter,
	log *slog.Logger,
) (*AdmissionService, error) {
	switch {
	case tx == nil:
		return nil, nilDependency("create_admission_service", "tx runner")
	case usage == nil:
		return nil, nilDependency("create_admission_service", "usage accountant")
	case limiter == nil:
		return nil, nilDependency("create_admission_service", "rate limiter")
	case sources == nil:
		return nil, nilDependency("create_admission_service", "source normalizer")
	case emitter == nil:
		return nil, nilDependency("create_admission_service", "event emitter")
	}
	if log == nil {
		log = slog.Default()
	}

	return &AdmissionService{
		tx:      tx,
		usage:   usage,
		limiter: limiter,
		sources: sources,
		emitter: emitter,
		logger:  log.With("component", "admission_service"),
	}, nil
}

type validatedRequest struct {
	kind   domain.SourceKind
	tone   domain.Tone
	topics []string
	value  string
}

func validateRequest(req AdmissionRequest) (*validatedRequest, error) {
	if req.UserID == uuid.Nil {
		return nil, domain.NewValidationError("userId", "caller identity is required")
	}

	kind := domain.SourceKind(strings.ToLower(strings.TrimSpace(req.SourceKind)))
	if !kind.Valid() {
		return nil, domain.NewValidationError("sourceKind", "must be one of video, article, text")
	}

	tone, ok := domain.ParseTone(req.Tone)
	if !ok {
		return nil, domain.NewValidationError("tone",
			"must be one of casual, profesional, tecnico, inspirador, humoristico")
	}

	topics, err := domain.NormalizeTopics(req.Topics)
	if err != nil {
		return nil, err
	}

	value := strings.TrimSpace(req.InputValue)
	if value == "" {
		return nil, domain.NewValidationError("inputValue", "cannot be empty")
	}

	return &validatedRequest{kind: kind, tone: tone, topics: topics, value: value}, nil
}

// Admit validates, throttles and quota-checks req, then creates a pending
// conversion and reserves one unit of the caller's quota. Generation is
// triggered out of band; its outcome never reaches the caller.
func (s *AdmissionService) Admit(ctx context.Context, req AdmissionRequest) (*Admission, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With("user_id", req.UserID)

	v, err := validateRequest(req)
	if err != nil {
		log.DebugContext(ctx, "admission rejected: invalid request", "error", err)
		return nil, err
	}

	key := req.RateLimitKey
	if key == "" {
		key = "user:" + req.UserID.String()
	}
	if d := s.limiter.Allow(key); !d.Allowed {
		log.InfoContext(ctx, "admission rejected: rate limited", "retry_after", d.RetryAfter)
		return nil, &domain.RateLimitError{RetryAfter: d.RetryAfter}
	}

	plan, err := s.usage.PlanFor(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	current, err := s.usage.snapshotFor(ctx, req.UserID, plan)
	if err != nil {
		return nil, err
	}
	if current.Exhausted() {
		log.InfoContext(ctx, "admission rejected: quota exceeded",
			"plan", plan.Name,
			"used", current.ConversionsUsed,
			"limit", current.ConversionsLimit)
		return nil, &domain.QuotaExceededError{
			Plan:  plan.Name,
			Used:  current.ConversionsUsed,
			Limit: current.ConversionsLimit,
		}
	}

	src, err := s.sources.Normalize(ctx, v.kind, v.value)
	if err != nil {
		var inputErr *domain.InputError
		if errors.As(err, &inputErr) {
			log.InfoContext(ctx, "admission rejected: input refused",
				"source_kind", v.kind,
				"code", inputErr.Code)
			return nil, err
		}
		log.ErrorContext(ctx, "source normalization failed", "error", err, "source_kind", v.kind)
		return nil, NewServiceError("admit", "failed to normalize source", err)
	}

	conversion, err := domain.NewConversion(req.UserID, v.kind, src.Content, src.Metadata, v.tone, v.topics)
	if err != nil {
		return nil, NewServiceError("admit", "failed to build conversion", err)
	}

	var reservation *Reservation
	err = s.tx.RunInTx(ctx, func(ctx context.Context, st store.Stores) error {
		if err := st.Conversions.Create(ctx, conversion); err != nil {
			return NewServiceError("admit", "failed to save conversion", err)
		}
		var err error
		reservation, err = s.usage.Reserve(ctx, st, req.UserID, plan)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			log.InfoContext(ctx, "admission rejected: quota taken concurrently", "plan", plan.Name)
		} else {
			log.ErrorContext(ctx, "failed to admit conversion", "error", err)
		}
		return nil, err
	}

	log = log.With("conversion_id", conversion.ID)
	log.InfoContext(ctx, "conversion admitted",
		"source_kind", conversion.SourceKind,
		"tone", conversion.Tone,
		"used", reservation.Snapshot.ConversionsUsed,
		"limit", reservation.Snapshot.ConversionsLimit)

	if reservation.NotifyLow {
		s.emit(ctx, log, events.TypeUsageLowThreshold, events.UsageLowThreshold{
			UserID:      req.UserID,
			Plan:        plan.Name,
			Used:        reservation.Snapshot.ConversionsUsed,
			Limit:       reservation.Snapshot.ConversionsLimit,
			PeriodStart: reservation.Snapshot.PeriodStart,
		})
	}
	s.emit(ctx, log, events.TypeConversionRequested, events.ConversionRequested{
		ConversionID: conversion.ID,
		UserID:       req.UserID,
	})

	return &Admission{
		ConversionID:   conversion.ID,
		State:          conversion.Status,
		SourceMetadata: conversion.SourceMetadata,
		Usage:          reservation.Snapshot,
	}, nil
}

// emit publishes an event. Failures are logged and swallowed: the conversion
// is already committed and the reaper re-dispatches lost triggers.
func (s *AdmissionService) emit(ctx context.Context, log *slog.Logger, eventType string, payload any) {
	event, err := events.NewEvent(eventType, payload)
	if err != nil {
		log.ErrorContext(ctx, "failed to create event", "error", err, "event_type", eventType)
		return
	}
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		log.ErrorContext(ctx, "failed to emit event",
			"error", err,
			"event_type", eventType,
			"event_id", event.ID)
	}
}
