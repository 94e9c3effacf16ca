package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/store"
)

// StatusView is what a polling client sees. Fields are filled according to
// the conversion state.
type StatusView struct {
	ConversionID     uuid.UUID
	State            domain.ConversionStatus
	CompletedFormats []domain.Format
	// Outputs holds the latest version per format, once completed.
	Outputs []*domain.Output
	// Usage is the caller's snapshot, once completed.
	Usage *domain.UsageSnapshot
	// Error is the failure message, once failed.
	Error string
}

// StatusService is the read model behind the status poll. It never writes.
type StatusService struct {
	conversions store.ConversionStore
	outputs     store.OutputStore
	usage       *UsageAccountant
	logger      *slog.Logger
}

// NewStatusService creates a StatusService.
func NewStatusService(
	conversions store.ConversionStore,
	outputs store.OutputStore,
	usage *UsageAccountant,
	logger *slog.Logger,
) (*StatusService, error) {
	switch {
	case conversions == nil:
		return nil, nilDependency("create_status_service", "conversion store")
	case outputs == nil:
		return nil, nilDependency("create_status_service", "output store")
	case usage == nil:
		return nil, nilDependency("create_status_service", "usage accountant")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusService{
		conversions: conversions,
		outputs:     outputs,
		usage:       usage,
		logger:      logger.With("component", "status_service"),
	}, nil
}

// GetStatus returns the state of conversion id as seen by callerID. A
// conversion owned by someone else is reported as ErrConversionNotFound.
func (s *StatusService) GetStatus(ctx context.Context, callerID, id uuid.UUID) (*StatusView, error) {
	c, err := s.conversions.GetByID(ctx, id)
	if err != nil {
		return nil, NewServiceError("get_status", "failed to load conversion", err)
	}
	if c.UserID != callerID {
		s.logger.DebugContext(ctx, "status requested for another user's conversion",
			"conversion_id", id,
			"caller_id", callerID)
		return nil, ErrConversionNotFound
	}

	outputs, err := s.outputs.ListByConversion(ctx, id)
	if err != nil {
		return nil, NewServiceError("get_status", "failed to load outputs", err)
	}

	view := &StatusView{
		ConversionID:     c.ID,
		State:            c.Status,
		CompletedFormats: domain.CompletedFormats(outputs),
	}

	switch c.Status {
	case domain.StatusCompleted:
		view.Outputs = domain.LatestOutputs(outputs)
		snapshot, err := s.usage.Snapshot(ctx, callerID)
		if err != nil {
			return nil, err
		}
		view.Usage = &snapshot
	case domain.StatusFailed:
		view.Error = c.Error()
	}

	return view, nil
}

// Usage returns the caller's usage snapshot.
func (s *StatusService) Usage(ctx context.Context, callerID uuid.UUID) (domain.UsageSnapshot, error) {
	return s.usage.Snapshot(ctx, callerID)
}
