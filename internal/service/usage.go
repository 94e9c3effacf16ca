package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/store"
)

// UsageConfig configures a UsageAccountant.
type UsageConfig struct {
	// Plans maps plan names to their quotas.
	Plans map[string]domain.Plan
	// DefaultPlan applies to users without a recorded plan.
	DefaultPlan string
	// LowUsageThreshold is the fraction of the limit (0..1] at which the
	// low-usage notice fires.
	LowUsageThreshold float64
}

// Reservation is the outcome of a successful quota reservation.
type Reservation struct {
	Snapshot domain.UsageSnapshot
	// NotifyLow is true for the single reservation per billing period that
	// crossed the low-usage threshold.
	NotifyLow bool
}

// UsageAccountant owns the monthly usage counter.
type UsageAccountant struct {
	usage    store.UsageStore
	accounts store.AccountStore
	cfg      UsageConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewUsageAccountant creates a UsageAccountant.
func NewUsageAccountant(
	usage store.UsageStore,
	accounts store.AccountStore,
	cfg UsageConfig,
	logger *slog.Logger,
) (*UsageAccountant, error) {
	if usage == nil {
		return nil, nilDependency("create_usage_accountant", "usage store")
	}
	if accounts == nil {
		return nil, nilDependency("create_usage_accountant", "account store")
	}
	if _, ok := cfg.Plans[cfg.DefaultPlan]; !ok {
		return nil, &ServiceError{
			Operation: "create_usage_accountant",
			Message:   fmt.Sprintf("default plan %q is not configured", cfg.DefaultPlan),
			Err:       ErrInvalidDependency,
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &UsageAccountant{
		usage:    usage,
		accounts: accounts,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With("component", "usage_accountant"),
	}, nil
}

// PlanFor resolves the plan of userID, falling back to the default plan when
// the user has none or it names an unknown plan.
func (a *UsageAccountant) PlanFor(ctx context.Context, userID uuid.UUID) (domain.Plan, error) {
	name, err := a.accounts.PlanFor(ctx, userID)
	switch {
	case errors.Is(err, store.ErrAccountNotFound):
		name = a.cfg.DefaultPlan
	case err != nil:
		return domain.Plan{}, NewServiceError("resolve_plan", "failed to load account plan", err)
	}

	plan, ok := a.cfg.Plans[name]
	if !ok {
		a.logger.WarnContext(ctx, "user has an unknown plan, using default",
			"user_id", userID,
			"plan", name,
			"default_plan", a.cfg.DefaultPlan)
		plan = a.cfg.Plans[a.cfg.DefaultPlan]
	}
	return plan, nil
}

// Snapshot returns the caller's current usage against their plan.
func (a *UsageAccountant) Snapshot(ctx context.Context, userID uuid.UUID) (domain.UsageSnapshot, error) {
	plan, err := a.PlanFor(ctx, userID)
	if err != nil {
		return domain.UsageSnapshot{}, err
	}
	return a.snapshotFor(ctx, userID, plan)
}

func (a *UsageAccountant) snapshotFor(
	ctx context.Context,
	userID uuid.UUID,
	plan domain.Plan,
) (domain.UsageSnapshot, error) {
	counter, err := a.usage.Get(ctx, userID)
	if err != nil {
		return domain.UsageSnapshot{}, NewServiceError("usage_snapshot", "failed to load usage", err)
	}
	return domain.NewUsageSnapshot(plan, counter), nil
}

// Reserve takes one quota slot inside the caller's transaction. It fails with
// *domain.QuotaExceededError when the limit was reached, including when a
// concurrent admission took the last slot first.
func (a *UsageAccountant) Reserve(
	ctx context.Context,
	s store.Stores,
	userID uuid.UUID,
	plan domain.Plan,
) (*Reservation, error) {
	counter, incremented, err := s.Usage.IncrementIfBelow(ctx, userID, plan.ConversionsPerMonth, a.now().UTC())
	if err != nil {
		return nil, NewServiceError("reserve_usage", "failed to increment usage", err)
	}
	if !incremented {
		return nil, &domain.QuotaExceededError{
			Plan:  plan.Name,
			Used:  counter.ConversionsUsed,
			Limit: plan.ConversionsPerMonth,
		}
	}

	res := &Reservation{Snapshot: domain.NewUsageSnapshot(plan, counter)}

	threshold := domain.LowUsageThreshold(plan.ConversionsPerMonth, a.cfg.LowUsageThreshold)
	if threshold > 0 && counter.ConversionsUsed >= threshold && !counter.LowUsageNotified {
		flipped, err := s.Usage.MarkLowUsageNotified(ctx, userID)
		if err != nil {
			return nil, NewServiceError("reserve_usage", "failed to record low-usage notice", err)
		}
		res.NotifyLow = flipped
	}

	return res, nil
}
