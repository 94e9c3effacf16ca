package postgres

import (
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/platform/logger"
	"github.com/phrazzld/repurpose/internal/store"
)

// PostgresOutputStore implements store.OutputStore.
type PostgresOutputStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.OutputStore = (*PostgresOutputStore)(nil)

// NewPostgresOutputStore creates an output store on db.
func NewPostgresOutputStore(db store.DBTX, logger *slog.Logger) *PostgresOutputStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresOutputStore{
		db:     db,
		logger: logger.With(slog.String("component", "output_store")),
	}
}

// CreateIfAbsent implements store.OutputStore. The unique key on
// (conversion_id, format, version) turns a duplicate write into a no-op.
func (s *PostgresOutputStore) CreateIfAbsent(ctx context.Context, o *domain.Output) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := o.Validate(); err != nil {
		return false, store.NewStoreError("output", "create", "validation failed", store.ErrInvalidEntity)
	}

	query := `
		INSERT INTO outputs (id, conversion_id, format, content, version, tokens_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (conversion_id, format, version) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		o.ID,
		o.ConversionID,
		string(o.Format),
		o.Content,
		o.Version,
		o.TokensUsed,
		o.CreatedAt,
	)
	if err != nil {
		log.Error("failed to create output",
			slog.String("error", err.Error()),
			slog.String("conversion_id", o.ConversionID.String()),
			slog.String("format", string(o.Format)))
		return false, store.NewStoreError("output", "create", "insert failed", MapError(err))
	}

	n, err := rowsAffected(result)
	if err != nil {
		return false, store.NewStoreError("output", "create", "insert failed", err)
	}
	if n == 0 {
		log.Info("output already exists, skipping",
			slog.String("conversion_id", o.ConversionID.String()),
			slog.String("format", string(o.Format)),
			slog.Int("version", o.Version))
		return false, nil
	}
	return true, nil
}

// ListByConversion implements store.OutputStore.
func (s *PostgresOutputStore) ListByConversion(ctx context.Context, conversionID uuid.UUID) ([]*domain.Output, error) {
	query := `
		SELECT id, conversion_id, format, content, version, tokens_used, created_at
		FROM outputs
		WHERE conversion_id = $1
		ORDER BY version, created_at
	`
	rows, err := s.db.QueryContext(ctx, query, conversionID)
	if err != nil {
		return nil, store.NewStoreError("output", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	outputs := []*domain.Output{}
	for rows.Next() {
		var (
			o      domain.Output
			format string
		)
		if err := rows.Scan(&o.ID, &o.ConversionID, &format, &o.Content, &o.Version, &o.TokensUsed, &o.CreatedAt); err != nil {
			return nil, store.NewStoreError("output", "list", "scan failed", err)
		}
		o.Format = domain.Format(format)
		outputs = append(outputs, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("output", "list", "rows failed", err)
	}

	sortOutputs(outputs)
	return outputs, nil
}

// DeleteFirstPass implements store.OutputStore.
func (s *PostgresOutputStore) DeleteFirstPass(ctx context.Context, conversionID uuid.UUID) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM outputs WHERE conversion_id = $1 AND version = $2`,
		conversionID, domain.FirstPassVersion)
	if err != nil {
		return 0, store.NewStoreError("output", "delete", "delete failed", MapError(err))
	}
	n, err := rowsAffected(result)
	if err != nil {
		return 0, store.NewStoreError("output", "delete", "delete failed", err)
	}
	return int(n), nil
}

// sortOutputs orders outputs by format generation order, then version.
func sortOutputs(outputs []*domain.Output) {
	slices.SortStableFunc(outputs, func(a, b *domain.Output) int {
		if d := a.Format.Index() - b.Format.Index(); d != 0 {
			return d
		}
		return a.Version - b.Version
	})
}
