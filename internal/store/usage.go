package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/domain"
)

// UsageStore defines persistence for the per-user monthly usage counter.
type UsageStore interface {
	// Get returns the user's counter. A user without a row gets a zero
	// counter whose period starts at the current billing period.
	Get(ctx context.Context, userID uuid.UUID) (domain.UsageCounter, error)

	// IncrementIfBelow atomically adds one to the counter if it is below
	// limit. incremented is false when the limit was already reached; the
	// returned counter is then the unchanged current value.
	IncrementIfBelow(
		ctx context.Context,
		userID uuid.UUID,
		limit int,
		now time.Time,
	) (counter domain.UsageCounter, incremented bool, err error)

	// MarkLowUsageNotified flips the once-per-period notification flag.
	// It returns true only for the call that flipped it.
	MarkLowUsageNotified(ctx context.Context, userID uuid.UUID) (bool, error)
}

// AccountStore resolves a user's subscription plan. Plans are written by the
// billing integration, never by this service.
type AccountStore interface {
	// PlanFor returns the plan name for userID.
	// Returns ErrAccountNotFound when no plan is recorded.
	PlanFor(ctx context.Context, userID uuid.UUID) (string, error)
}
