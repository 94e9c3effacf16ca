package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/store"
)

// PostgresUsageStore implements store.UsageStore.
type PostgresUsageStore struct {
	db     store.DBTX
	logger *slog.Logger
	now    func() time.Time
}

var _ store.UsageStore = (*PostgresUsageStore)(nil)

// NewPostgresUsageStore creates a usage store on db.
func NewPostgresUsageStore(db store.DBTX, logger *slog.Logger) *PostgresUsageStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresUsageStore{
		db:     db,
		logger: logger.With(slog.String("component", "usage_store")),
		now:    time.Now,
	}
}

// Get implements store.UsageStore.
func (s *PostgresUsageStore) Get(ctx context.Context, userID uuid.UUID) (domain.UsageCounter, error) {
	query := `
		SELECT conversions_used, period_start, low_usage_notified, updated_at
		FROM usage_counters
		WHERE user_id = $1
	`
	counter := domain.UsageCounter{UserID: userID}
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&counter.ConversionsUsed,
		&counter.PeriodStart,
		&counter.LowUsageNotified,
		&counter.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		counter.PeriodStart = domain.BillingPeriodStart(s.now())
		return counter, nil
	}
	if err != nil {
		return domain.UsageCounter{}, store.NewStoreError("usage", "get", "query failed", MapError(err))
	}
	return counter, nil
}

// IncrementIfBelow implements store.UsageStore. The conditional upsert is a
// single statement, so concurrent admissions cannot push the counter past
// limit.
func (s *PostgresUsageStore) IncrementIfBelow(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	now time.Time,
) (domain.UsageCounter, bool, error) {
	if limit <= 0 {
		counter, err := s.Get(ctx, userID)
		return counter, false, err
	}

	query := `
		INSERT INTO usage_counters (user_id, conversions_used, period_start, low_usage_notified, updated_at)
		VALUES ($1, 1, $2, FALSE, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET conversions_used = usage_counters.conversions_used + 1,
			updated_at = EXCLUDED.updated_at
		WHERE usage_counters.conversions_used < $4
		RETURNING conversions_used, period_start, low_usage_notified, updated_at
	`
	counter := domain.UsageCounter{UserID: userID}
	err := s.db.QueryRowContext(ctx, query, userID, domain.BillingPeriodStart(now), now, limit).Scan(
		&counter.ConversionsUsed,
		&counter.PeriodStart,
		&counter.LowUsageNotified,
		&counter.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.Get(ctx, userID)
		return current, false, getErr
	}
	if err != nil {
		return domain.UsageCounter{}, false, store.NewStoreError("usage", "increment", "upsert failed", MapError(err))
	}
	return counter, true, nil
}

// MarkLowUsageNotified implements store.UsageStore.
func (s *PostgresUsageStore) MarkLowUsageNotified(ctx context.Context, userID uuid.UUID) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE usage_counters
		SET low_usage_notified = TRUE
		WHERE user_id = $1 AND NOT low_usage_notified
	`, userID)
	if err != nil {
		return false, store.NewStoreError("usage", "mark_notified", "update failed", MapError(err))
	}
	n, err := rowsAffected(result)
	if err != nil {
		return false, store.NewStoreError("usage", "mark_notified", "update failed", err)
	}
	return n == 1, nil
}

// PostgresAccountStore implements store.AccountStore.
type PostgresAccountStore struct {
	db store.DBTX
}

var _ store.AccountStore = (*PostgresAccountStore)(nil)

// NewPostgresAccountStore creates an account store on db.
func NewPostgresAccountStore(db store.DBTX) *PostgresAccountStore {
	if db == nil {
		panic("db cannot be nil")
	}
	return &PostgresAccountStore{db: db}
}

// PlanFor implements store.AccountStore.
func (s *PostgresAccountStore) PlanFor(ctx context.Context, userID uuid.UUID) (string, error) {
	var plan string
	err := s.db.QueryRowContext(ctx, `SELECT plan FROM accounts WHERE user_id = $1`, userID).Scan(&plan)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrAccountNotFound
	}
	if err != nil {
		return "", store.NewStoreError("account", "get", "query failed", MapError(err))
	}
	return plan, nil
}
