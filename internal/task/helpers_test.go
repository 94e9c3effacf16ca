package task

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/platform/memory"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sleepRecorder stands in for the pacing wait and records every requested
// duration.
type sleepRecorder struct {
	mu        sync.Mutex
	durations []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.durations = append(s.durations, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.durations...)
}

func newPendingConversion(t *testing.T, db *memory.DB) *domain.Conversion {
	t.Helper()
	c, err := domain.NewConversion(
		uuid.New(),
		domain.SourceKindText,
		"Long-form source text about building reliable systems.",
		map[string]any{"wordCount": 7},
		domain.ToneTecnico,
		[]string{"reliability"},
	)
	require.NoError(t, err)
	require.NoError(t, db.Stores().Conversions.Create(context.Background(), c))
	return c
}

func getConversion(t *testing.T, db *memory.DB, id uuid.UUID) *domain.Conversion {
	t.Helper()
	c, err := db.Stores().Conversions.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func listOutputs(t *testing.T, db *memory.DB, id uuid.UUID) []*domain.Output {
	t.Helper()
	outputs, err := db.Stores().Outputs.ListByConversion(context.Background(), id)
	require.NoError(t, err)
	return outputs
}
