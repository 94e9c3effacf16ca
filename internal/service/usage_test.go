package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/platform/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsageAccountantRequiresDefaultPlan(t *testing.T) {
	t.Parallel()

	stores := memory.NewDB().Stores()
	_, err := NewUsageAccountant(stores.Usage, stores.Accounts, UsageConfig{
		Plans:       testPlans(),
		DefaultPlan: "enterprise",
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidDependency)

	_, err = NewUsageAccountant(nil, stores.Accounts, UsageConfig{Plans: testPlans(), DefaultPlan: "free"}, nil)
	assert.ErrorIs(t, err, ErrInvalidDependency)
}

func TestPlanFor(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	withPro, withUnknown, without := uuid.New(), uuid.New(), uuid.New()
	f.db.SetPlan(withPro, "pro")
	f.db.SetPlan(withUnknown, "legacy")

	tests := []struct {
		name   string
		userID uuid.UUID
		want   string
	}{
		{"recorded plan", withPro, "pro"},
		{"unknown plan falls back", withUnknown, "free"},
		{"no account falls back", without, "free"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := f.usage.PlanFor(context.Background(), tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan.Name)
		})
	}
}

func TestReserveStopsAtLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	userID := uuid.New()
	plan := testPlans()["free"]

	for i := 1; i <= plan.ConversionsPerMonth; i++ {
		res, err := f.usage.Reserve(context.Background(), f.db.Stores(), userID, plan)
		require.NoError(t, err)
		assert.Equal(t, i, res.Snapshot.ConversionsUsed)
	}

	_, err := f.usage.Reserve(context.Background(), f.db.Stores(), userID, plan)
	assert.Error(t, err)

	snapshot, err := f.usage.Snapshot(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, snapshot.Exhausted())
}

func TestReserveFlagsLowUsageOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	userID := uuid.New()
	plan := testPlans()["free"]

	// ceil(2 * 0.8) = 2
	first, err := f.usage.Reserve(context.Background(), f.db.Stores(), userID, plan)
	require.NoError(t, err)
	assert.False(t, first.NotifyLow)

	second, err := f.usage.Reserve(context.Background(), f.db.Stores(), userID, plan)
	require.NoError(t, err)
	assert.True(t, second.NotifyLow)

	counter, err := f.db.Stores().Usage.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, counter.LowUsageNotified)
}
