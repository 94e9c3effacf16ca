package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/domain"
)

// OutputStore defines persistence for generated outputs.
type OutputStore interface {
	// CreateIfAbsent inserts o unless an output with the same
	// (conversion, format, version) already exists. created reports whether
	// a row was written.
	CreateIfAbsent(ctx context.Context, o *domain.Output) (created bool, err error)

	// ListByConversion returns every output of a conversion ordered by
	// format generation order, then version.
	ListByConversion(ctx context.Context, conversionID uuid.UUID) ([]*domain.Output, error)

	// DeleteFirstPass removes the version-1 outputs of a conversion and
	// returns how many rows were deleted.
	DeleteFirstPass(ctx context.Context, conversionID uuid.UUID) (int, error)
}
