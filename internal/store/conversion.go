package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/domain"
)

// ConversionStore defines persistence for conversion jobs.
//
// Status transitions are conditional updates: each method only changes a row
// that is in the required source state, so duplicate orchestrator runs cannot
// move a job backwards or out of a terminal state.
type ConversionStore interface {
	// Create saves a new conversion. It validates the entity first and
	// returns ErrInvalidEntity wrapping the validation error on failure.
	Create(ctx context.Context, c *domain.Conversion) error

	// GetByID retrieves a conversion by its ID.
	// Returns ErrConversionNotFound if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversion, error)

	// ClaimPending atomically moves a pending conversion to processing and
	// sets started_at. claimed is false when the row was not pending; the
	// returned conversion then reflects its current state.
	// Returns ErrConversionNotFound if it does not exist.
	ClaimPending(ctx context.Context, id uuid.UUID, startedAt time.Time) (c *domain.Conversion, claimed bool, err error)

	// MarkCompleted moves a processing conversion to completed.
	// Returns ErrStatusConflict if the conversion is not processing.
	MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error

	// MarkFailed moves a processing conversion to failed with message.
	// Returns ErrStatusConflict if the conversion is not processing.
	MarkFailed(ctx context.Context, id uuid.UUID, message string, completedAt time.Time) error

	// FailStaleProcessing fails every processing conversion whose started_at
	// is before startedBefore and returns their IDs.
	FailStaleProcessing(
		ctx context.Context,
		startedBefore time.Time,
		message string,
		completedAt time.Time,
	) ([]uuid.UUID, error)

	// FindPendingOlderThan returns up to limit IDs of conversions that have
	// been pending since before createdBefore, oldest first.
	FindPendingOlderThan(ctx context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error)
}
