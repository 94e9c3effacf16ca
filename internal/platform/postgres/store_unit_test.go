package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var conversionRowColumns = []string{
	"id", "user_id", "source_kind", "source_text", "source_metadata", "tone", "topics",
	"status", "error_message", "created_at", "started_at", "completed_at",
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func conversionRow(id, userID uuid.UUID, status domain.ConversionStatus, createdAt time.Time) *sqlmock.Rows {
	var started any
	if status != domain.StatusPending {
		started = createdAt.Add(time.Second)
	}
	return sqlmock.NewRows(conversionRowColumns).AddRow(
		id.String(), userID.String(), "text", "long form source text", []byte(`{"words":150}`),
		"tecnico", "{ai,go}", string(status), nil, createdAt, started, nil,
	)
}

func TestPostgresConversionStore_Create(t *testing.T) {
	t.Parallel()

	t.Run("inserts valid conversion", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresConversionStore(db, nil)

		c, err := domain.NewConversion(uuid.New(), domain.SourceKindText, "some text", map[string]any{"words": 150},
			domain.ToneTecnico, []string{"ai"})
		require.NoError(t, err)

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO conversions")).
			WithArgs(c.ID, c.UserID, "text", "some text", []byte(`{"words":150}`), "tecnico",
				"{\"ai\"}", "pending", nil, sqlmock.AnyArg(), nil, nil).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.Create(context.Background(), c))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects invalid conversion without touching the database", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresConversionStore(db, nil)

		err := s.Create(context.Background(), &domain.Conversion{ID: uuid.New()})
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresConversionStore_GetByID(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresConversionStore(db, nil)
		id, userID := uuid.New(), uuid.New()
		created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

		mock.ExpectQuery(regexp.QuoteMeta("FROM conversions WHERE id = $1")).
			WithArgs(id).
			WillReturnRows(conversionRow(id, userID, domain.StatusPending, created))

		c, err := s.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, c.ID)
		assert.Equal(t, userID, c.UserID)
		assert.Equal(t, domain.SourceKindText, c.SourceKind)
		assert.Equal(t, domain.ToneTecnico, c.Tone)
		assert.Equal(t, []string{"ai", "go"}, c.Topics)
		assert.Equal(t, domain.StatusPending, c.Status)
		assert.EqualValues(t, 150, c.SourceMetadata["words"])
		assert.Nil(t, c.StartedAt)
		assert.Nil(t, c.ErrorMessage)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresConversionStore(db, nil)
		id := uuid.New()

		mock.ExpectQuery(regexp.QuoteMeta("FROM conversions WHERE id = $1")).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(conversionRowColumns))

		_, err := s.GetByID(context.Background(), id)
		assert.ErrorIs(t, err, store.ErrConversionNotFound)
		assert.True(t, store.IsNotFoundError(err))
	})

	t.Run("database error", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresConversionStore(db, nil)
		id := uuid.New()

		mock.ExpectQuery(regexp.QuoteMeta("FROM conversions WHERE id = $1")).
			WithArgs(id).
			WillReturnError(errors.New("connection reset"))

		_, err := s.GetByID(context.Background(), id)
		var storeErr *store.StoreError
		assert.True(t, errors.As(err, &storeErr))
		assert.False(t, store.IsNotFoundError(err))
	})
}

func TestPostgresConversionStore_ClaimPending(t *testing.T) {
	t.Parallel()

	claimSQL := regexp.QuoteMeta("SET status = 'processing', started_at = $2")
	getSQL := regexp.QuoteMeta("FROM conversions WHERE id = $1")

	t.Run("claims pending conversion", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresConversionStore(db, nil)
		id, userID := uuid.New(), uuid.New()
		now := time.Now().UTC()

		mock.ExpectQuery(claimSQL).
			WithArgs(id, now).
			WillReturnRows(conversionRow(id, userID, domain.StatusProcessing, now))

		c, claimed, err := s.ClaimPending(context.Background(), id, now)
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.Equal(t, domain.StatusProcessing, c.Status)
		assert.NotNil(t, c.StartedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns current state when not pending", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresConversionStore(db, nil)
		id, userID := uuid.New(), uuid.New()
		now := time.Now().UTC()

		mock.ExpectQuery(claimSQL).WithArgs(id, now).WillReturnRows(sqlmock.NewRows(conversionRowColumns))
		mock.ExpectQuery(getSQL).WithArgs(id).
			WillReturnRows(conversionRow(id, userID, domain.StatusCompleted, now))

		c, claimed, err := s.ClaimPending(context.Background(), id, now)
		require.NoError(t, err)
		assert.False(t, claimed)
		assert.Equal(t, domain.StatusCompleted, c.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing conversion", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresConversionStore(db, nil)
		id := uuid.New()
		now := time.Now().UTC()

		mock.ExpectQuery(claimSQL).WithArgs(id, now).WillReturnRows(sqlmock.NewRows(conversionRowColumns))
		mock.ExpectQuery(getSQL).WithArgs(id).WillReturnRows(sqlmock.NewRows(conversionRowColumns))

		_, claimed, err := s.ClaimPending(context.Background(), id, now)
		assert.False(t, claimed)
		assert.ErrorIs(t, err, store.ErrConversionNotFound)
	})
}

func TestPostgresConversionStore_MarkTerminal(t *testing.T) {
	t.Parallel()

	t.Run("completes processing conversion", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresConversionStore(db, nil)
		id := uuid.New()
		now := time.Now().UTC()

		mock.ExpectExec(regexp.QuoteMeta("SET status = 'completed', completed_at = $2")).
			WithArgs(id, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, s.MarkCompleted(context.Background(), id, now))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict when not processing", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresConversionStore(db, nil)
		id := uuid.New()
		now := time.Now().UTC()

		mock.ExpectExec(regexp.QuoteMeta("SET status = 'failed', error_message = $2, completed_at = $3")).
			WithArgs(id, "boom", now).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("FROM conversions WHERE id = $1")).
			WithArgs(id).
			WillReturnRows(conversionRow(id, uuid.New(), domain.StatusCompleted, now))

		err := s.MarkFailed(context.Background(), id, "boom", now)
		assert.ErrorIs(t, err, store.ErrStatusConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresConversionStore_Sweeps(t *testing.T) {
	t.Parallel()

	t.Run("fail stale processing", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresConversionStore(db, nil)
		a, b := uuid.New(), uuid.New()
		cutoff := time.Now().Add(-5 * time.Minute)

		mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'processing' AND started_at < $1")).
			WithArgs(cutoff, "timed out", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(a.String()).AddRow(b.String()))

		ids, err := s.FailStaleProcessing(context.Background(), cutoff, "timed out", time.Now())
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{a, b}, ids)
	})

	t.Run("find pending", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresConversionStore(db, nil)
		cutoff := time.Now().Add(-time.Minute)

		mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'pending' AND created_at < $1")).
			WithArgs(cutoff, 50).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		ids, err := s.FindPendingOlderThan(context.Background(), cutoff, 50)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestPostgresOutputStore(t *testing.T) {
	t.Parallel()

	insertSQL := regexp.QuoteMeta("ON CONFLICT (conversion_id, format, version) DO NOTHING")

	t.Run("create if absent writes once", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresOutputStore(db, nil)
		o, err := domain.NewOutput(uuid.New(), domain.FormatXThread, "1/ hello", 42)
		require.NoError(t, err)

		mock.ExpectExec(insertSQL).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertSQL).WillReturnResult(sqlmock.NewResult(0, 0))

		created, err := s.CreateIfAbsent(context.Background(), o)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = s.CreateIfAbsent(context.Background(), o)
		require.NoError(t, err)
		assert.False(t, created)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list sorts by format order then version", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresOutputStore(db, nil)
		convID := uuid.New()
		now := time.Now().UTC()

		rows := sqlmock.NewRows([]string{"id", "conversion_id", "format", "content", "version", "tokens_used", "created_at"}).
			AddRow(uuid.NewString(), convID.String(), "carousel", "c", 1, 10, now).
			AddRow(uuid.NewString(), convID.String(), "x_thread", "x1", 1, 10, now).
			AddRow(uuid.NewString(), convID.String(), "linkedin_post", "l", 1, 10, now).
			AddRow(uuid.NewString(), convID.String(), "x_thread", "x2", 2, 10, now)
		mock.ExpectQuery(regexp.QuoteMeta("FROM outputs")).WithArgs(convID).WillReturnRows(rows)

		outputs, err := s.ListByConversion(context.Background(), convID)
		require.NoError(t, err)
		require.Len(t, outputs, 4)

		var contents []string
		for _, o := range outputs {
			contents = append(contents, o.Content)
		}
		assert.Equal(t, []string{"x1", "x2", "l", "c"}, contents)
	})

	t.Run("delete first pass", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresOutputStore(db, nil)
		convID := uuid.New()

		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM outputs WHERE conversion_id = $1 AND version = $2")).
			WithArgs(convID, 1).
			WillReturnResult(sqlmock.NewResult(0, 2))

		n, err := s.DeleteFirstPass(context.Background(), convID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestPostgresUsageStore(t *testing.T) {
	t.Parallel()

	usageColumns := []string{"conversions_used", "period_start", "low_usage_notified", "updated_at"}
	incrementSQL := regexp.QuoteMeta("WHERE usage_counters.conversions_used < $4")
	getSQL := regexp.QuoteMeta("FROM usage_counters")

	t.Run("get missing row returns zero counter", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresUsageStore(db, nil)
		s.now = func() time.Time { return time.Date(2025, 3, 17, 9, 0, 0, 0, time.UTC) }
		userID := uuid.New()

		mock.ExpectQuery(getSQL).WithArgs(userID).WillReturnRows(sqlmock.NewRows(usageColumns))

		counter, err := s.Get(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, 0, counter.ConversionsUsed)
		assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), counter.PeriodStart)
	})

	t.Run("increment below limit", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresUsageStore(db, nil)
		userID := uuid.New()
		now := time.Date(2025, 3, 17, 9, 0, 0, 0, time.UTC)
		period := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

		mock.ExpectQuery(incrementSQL).
			WithArgs(userID, period, now, 2).
			WillReturnRows(sqlmock.NewRows(usageColumns).AddRow(2, period, false, now))

		counter, incremented, err := s.IncrementIfBelow(context.Background(), userID, 2, now)
		require.NoError(t, err)
		assert.True(t, incremented)
		assert.Equal(t, 2, counter.ConversionsUsed)
	})

	t.Run("increment at limit is refused", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresUsageStore(db, nil)
		userID := uuid.New()
		now := time.Now().UTC()

		mock.ExpectQuery(incrementSQL).WillReturnRows(sqlmock.NewRows(usageColumns))
		mock.ExpectQuery(getSQL).WithArgs(userID).
			WillReturnRows(sqlmock.NewRows(usageColumns).AddRow(2, now, false, now))

		counter, incremented, err := s.IncrementIfBelow(context.Background(), userID, 2, now)
		require.NoError(t, err)
		assert.False(t, incremented)
		assert.Equal(t, 2, counter.ConversionsUsed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero limit never increments", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresUsageStore(db, nil)
		userID := uuid.New()

		mock.ExpectQuery(getSQL).WithArgs(userID).WillReturnRows(sqlmock.NewRows(usageColumns))

		_, incremented, err := s.IncrementIfBelow(context.Background(), userID, 0, time.Now())
		require.NoError(t, err)
		assert.False(t, incremented)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mark low usage notified once", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		s := NewPostgresUsageStore(db, nil)
		userID := uuid.New()

		markSQL := regexp.QuoteMeta("SET low_usage_notified = TRUE")
		mock.ExpectExec(markSQL).WithArgs(userID).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(markSQL).WithArgs(userID).WillReturnResult(sqlmock.NewResult(0, 0))

		first, err := s.MarkLowUsageNotified(context.Background(), userID)
		require.NoError(t, err)
		second, err := s.MarkLowUsageNotified(context.Background(), userID)
		require.NoError(t, err)

		assert.True(t, first)
		assert.False(t, second)
	})
}

func TestPostgresAccountStore_PlanFor(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	s := NewPostgresAccountStore(db)
	known, unknown := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT plan FROM accounts")).
		WithArgs(known).
		WillReturnRows(sqlmock.NewRows([]string{"plan"}).AddRow("creator"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT plan FROM accounts")).
		WithArgs(unknown).
		WillReturnRows(sqlmock.NewRows([]string{"plan"}))

	plan, err := s.PlanFor(context.Background(), known)
	require.NoError(t, err)
	assert.Equal(t, "creator", plan)

	_, err = s.PlanFor(context.Background(), unknown)
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestTxRunner_RunInTx(t *testing.T) {
	t.Parallel()

	t.Run("commits on success", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		runner := NewTxRunner(db, nil)
		userID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("SET low_usage_notified = TRUE")).
			WithArgs(userID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := runner.RunInTx(context.Background(), func(ctx context.Context, s store.Stores) error {
			_, err := s.Usage.MarkLowUsageNotified(ctx, userID)
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		runner := NewTxRunner(db, nil)
		sentinel := errors.New("quota exceeded")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := runner.RunInTx(context.Background(), func(ctx context.Context, s store.Stores) error {
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
