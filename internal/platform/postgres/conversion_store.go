package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/platform/logger"
	"github.com/phrazzld/repurpose/internal/store"
)

const conversionColumns = `id, user_id, source_kind, source_text, source_metadata, tone, topics,
	status, error_message, created_at, started_at, completed_at`

// PostgresConversionStore implements store.ConversionStore.
type PostgresConversionStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.ConversionStore = (*PostgresConversionStore)(nil)

// NewPostgresConversionStore creates a conversion store on db, which may be a
// *sql.DB or a *sql.Tx. A nil logger falls back to slog.Default().
func NewPostgresConversionStore(db store.DBTX, logger *slog.Logger) *PostgresConversionStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresConversionStore{
		db:     db,
		logger: logger.With(slog.String("component", "conversion_store")),
	}
}

// Create implements store.ConversionStore.
func (s *PostgresConversionStore) Create(ctx context.Context, c *domain.Conversion) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := c.Validate(); err != nil {
		log.Warn("conversion validation failed during create",
			slog.String("error", err.Error()),
			slog.String("conversion_id", c.ID.String()))
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	metadata, err := marshalMetadata(c.SourceMetadata)
	if err != nil {
		return store.NewStoreError("conversion", "create", "invalid source metadata", err)
	}

	query := `
		INSERT INTO conversions (id, user_id, source_kind, source_text, source_metadata, tone, topics,
			status, error_message, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		c.ID,
		c.UserID,
		string(c.SourceKind),
		c.SourceText,
		metadata,
		string(c.Tone),
		pq.Array(topicsOrEmpty(c.Topics)),
		string(c.Status),
		nullString(c.ErrorMessage),
		c.CreatedAt,
		nullTime(c.StartedAt),
		nullTime(c.CompletedAt),
	)
	if err != nil {
		log.Error("failed to create conversion",
			slog.String("error", err.Error()),
			slog.String("conversion_id", c.ID.String()))
		return store.NewStoreError("conversion", "create", "insert failed", MapError(err))
	}

	log.Debug("conversion created",
		slog.String("conversion_id", c.ID.String()),
		slog.String("user_id", c.UserID.String()))
	return nil
}

// GetByID implements store.ConversionStore.
func (s *PostgresConversionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversion, error) {
	query := `SELECT ` + conversionColumns + ` FROM conversions WHERE id = $1`

	c, err := scanConversion(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrConversionNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get conversion",
			slog.String("error", err.Error()),
			slog.String("conversion_id", id.String()))
		return nil, store.NewStoreError("conversion", "get", "query failed", MapError(err))
	}
	return c, nil
}

// ClaimPending implements store.ConversionStore. The status predicate in the
// UPDATE makes the claim atomic across concurrent callers.
func (s *PostgresConversionStore) ClaimPending(
	ctx context.Context,
	id uuid.UUID,
	startedAt time.Time,
) (*domain.Conversion, bool, error) {
	query := `
		UPDATE conversions
		SET status = 'processing', started_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + conversionColumns

	c, err := scanConversion(s.db.QueryRowContext(ctx, query, id, startedAt))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, store.NewStoreError("conversion", "claim", "update failed", MapError(err))
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// MarkCompleted implements store.ConversionStore.
func (s *PostgresConversionStore) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	query := `
		UPDATE conversions
		SET status = 'completed', completed_at = $2
		WHERE id = $1 AND status = 'processing'
	`
	return s.finish(ctx, "complete", id, query, id, completedAt)
}

// MarkFailed implements store.ConversionStore.
func (s *PostgresConversionStore) MarkFailed(
	ctx context.Context,
	id uuid.UUID,
	message string,
	completedAt time.Time,
) error {
	query := `
		UPDATE conversions
		SET status = 'failed', error_message = $2, completed_at = $3
		WHERE id = $1 AND status = 'processing'
	`
	return s.finish(ctx, "fail", id, query, id, message, completedAt)
}

func (s *PostgresConversionStore) finish(
	ctx context.Context,
	operation string,
	id uuid.UUID,
	query string,
	args ...any,
) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return store.NewStoreError("conversion", operation, "update failed", MapError(err))
	}
	n, err := rowsAffected(result)
	if err != nil {
		return store.NewStoreError("conversion", operation, "update failed", err)
	}
	if n > 0 {
		return nil
	}

	// Distinguish a missing row from a row in the wrong state.
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return store.ErrStatusConflict
}

// FailStaleProcessing implements store.ConversionStore.
func (s *PostgresConversionStore) FailStaleProcessing(
	ctx context.Context,
	startedBefore time.Time,
	message string,
	completedAt time.Time,
) ([]uuid.UUID, error) {
	query := `
		UPDATE conversions
		SET status = 'failed', error_message = $2, completed_at = $3
		WHERE status = 'processing' AND started_at < $1
		RETURNING id
	`
	return s.queryIDs(ctx, "fail_stale", query, startedBefore, message, completedAt)
}

// FindPendingOlderThan implements store.ConversionStore.
func (s *PostgresConversionStore) FindPendingOlderThan(
	ctx context.Context,
	createdBefore time.Time,
	limit int,
) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM conversions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`
	return s.queryIDs(ctx, "find_pending", query, createdBefore, limit)
}

func (s *PostgresConversionStore) queryIDs(ctx context.Context, operation, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("conversion", operation, "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, store.NewStoreError("conversion", operation, "scan failed", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("conversion", operation, "rows failed", err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversion(row rowScanner) (*domain.Conversion, error) {
	var (
		c           domain.Conversion
		kind        string
		tone        string
		status      string
		metadata    []byte
		topics      []string
		errMessage  sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&c.ID,
		&c.UserID,
		&kind,
		&c.SourceText,
		&metadata,
		&tone,
		pq.Array(&topics),
		&status,
		&errMessage,
		&c.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	c.SourceKind = domain.SourceKind(kind)
	c.Tone = domain.Tone(tone)
	c.Status = domain.ConversionStatus(status)
	if len(topics) > 0 {
		c.Topics = topics
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.SourceMetadata); err != nil {
			return nil, fmt.Errorf("failed to decode source metadata: %w", err)
		}
		if len(c.SourceMetadata) == 0 {
			c.SourceMetadata = nil
		}
	}
	if errMessage.Valid {
		msg := errMessage.String
		c.ErrorMessage = &msg
	}
	if startedAt.Valid {
		t := startedAt.Time
		c.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		c.CompletedAt = &t
	}
	return &c, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(m)
}

func topicsOrEmpty(topics []string) []string {
	if topics == nil {
		return []string{}
	}
	return topics
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
