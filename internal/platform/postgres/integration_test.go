//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/store"
	"github.com/phrazzld/repurpose/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	os.Exit(runWithDatabase(m))
}

func runWithDatabase(m *testing.M) int {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	d, err := testdb.Start(context.Background(), func(ctx context.Context, db *sql.DB) error {
		if err := Migrate(ctx, db, MigrateReset, log); err != nil {
			return err
		}
		return Migrate(ctx, db, MigrateUp, log)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = d.Close() }()

	testDB = d.DB
	return m.Run()
}

func newTestConversion(t *testing.T, userID uuid.UUID) *domain.Conversion {
	t.Helper()
	c, err := domain.NewConversion(userID, domain.SourceKindText, "long form source text",
		map[string]any{"words": 4}, domain.ToneCasual, []string{"go"})
	require.NoError(t, err)
	return c
}

func TestIntegrationConversionLifecycle(t *testing.T) {
	testdb.WithTx(t, testDB, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		stores := NewStores(tx, nil)

		c := newTestConversion(t, uuid.New())
		require.NoError(t, stores.Conversions.Create(ctx, c))

		got, err := stores.Conversions.GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, got.Status)
		assert.Equal(t, []string{"go"}, got.Topics)

		claimed, ok, err := stores.Conversions.ClaimPending(ctx, c.ID, time.Now())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.StatusProcessing, claimed.Status)

		_, ok, err = stores.Conversions.ClaimPending(ctx, c.ID, time.Now())
		require.NoError(t, err)
		assert.False(t, ok, "second claim must not succeed")

		for _, f := range domain.Formats {
			o, err := domain.NewOutput(c.ID, f, string(f)+" text", 10)
			require.NoError(t, err)
			created, err := stores.Outputs.CreateIfAbsent(ctx, o)
			require.NoError(t, err)
			assert.True(t, created)

			dup, err := domain.NewOutput(c.ID, f, "again", 10)
			require.NoError(t, err)
			created, err = stores.Outputs.CreateIfAbsent(ctx, dup)
			require.NoError(t, err)
			assert.False(t, created)
		}

		outputs, err := stores.Outputs.ListByConversion(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, outputs, len(domain.Formats))
		for i, f := range domain.Formats {
			assert.Equal(t, f, outputs[i].Format)
		}

		require.NoError(t, stores.Conversions.MarkCompleted(ctx, c.ID, time.Now()))
		err = stores.Conversions.MarkFailed(ctx, c.ID, "late failure", time.Now())
		assert.ErrorIs(t, err, store.ErrStatusConflict)
	})
}

func TestIntegrationGetUnknownConversion(t *testing.T) {
	_, err := NewPostgresConversionStore(testDB, nil).GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrConversionNotFound)
}

func TestIntegrationReaperQueries(t *testing.T) {
	ctx := context.Background()
	conversions := NewPostgresConversionStore(testDB, nil)

	stale := newTestConversion(t, uuid.New())
	require.NoError(t, conversions.Create(ctx, stale))
	_, ok, err := conversions.ClaimPending(ctx, stale.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	failed, err := conversions.FailStaleProcessing(ctx, time.Now().Add(-30*time.Minute), "timed out", time.Now())
	require.NoError(t, err)
	assert.Contains(t, failed, stale.ID)

	got, err := conversions.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)

	pending := newTestConversion(t, uuid.New())
	pending.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, conversions.Create(ctx, pending))

	ids, err := conversions.FindPendingOlderThan(ctx, time.Now().Add(-time.Minute), 100)
	require.NoError(t, err)
	assert.Contains(t, ids, pending.ID)
}

func TestIntegrationUsageIncrementIsAtomic(t *testing.T) {
	ctx := context.Background()
	usage := NewPostgresUsageStore(testDB, nil)
	userID := uuid.New()

	const workers, limit = 20, 7
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := usage.IncrementIfBelow(ctx, userID, limit, time.Now())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, admitted)
	counter, err := usage.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, limit, counter.ConversionsUsed)

	first, err := usage.MarkLowUsageNotified(ctx, userID)
	require.NoError(t, err)
	second, err := usage.MarkLowUsageNotified(ctx, userID)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}

func TestIntegrationTxRollback(t *testing.T) {
	ctx := context.Background()
	runner := NewTxRunner(testDB, nil)
	userID := uuid.New()
	c := newTestConversion(t, userID)
	boom := errors.New("boom")

	err := runner.RunInTx(ctx, func(ctx context.Context, s store.Stores) error {
		if _, _, err := s.Usage.IncrementIfBelow(ctx, userID, 5, time.Now()); err != nil {
			return err
		}
		if err := s.Conversions.Create(ctx, c); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = NewPostgresConversionStore(testDB, nil).GetByID(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrConversionNotFound)

	counter, err := NewPostgresUsageStore(testDB, nil).Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, counter.ConversionsUsed)
}

func TestIntegrationAccountPlan(t *testing.T) {
	ctx := context.Background()
	accounts := NewPostgresAccountStore(testDB)
	userID := uuid.New()

	_, err := accounts.PlanFor(ctx, userID)
	assert.ErrorIs(t, err, store.ErrAccountNotFound)

	_, err = testDB.ExecContext(ctx, `INSERT INTO accounts (user_id, plan) VALUES ($1, $2)`, userID, "pro")
	require.NoError(t, err)

	plan, err := accounts.PlanFor(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "pro", plan)
}
