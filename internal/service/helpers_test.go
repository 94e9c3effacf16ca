package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/events"
	"github.com/phrazzld/repurpose/internal/platform/memory"
	"github.com/phrazzld/repurpose/internal/ratelimit"
	"github.com/phrazzld/repurpose/internal/source"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// words returns a text of n words.
func words(n int) string {
	return strings.TrimSpace(strings.Repeat("palabra ", n))
}

// recordingEmitter records emitted events and optionally fails.
type recordingEmitter struct {
	mu     sync.Mutex
	events []*events.Event
	err    error
}

func (r *recordingEmitter) EmitEvent(_ context.Context, e *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingEmitter) ofType(eventType string) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func testPlans() map[string]domain.Plan {
	return map[string]domain.Plan{
		"free": {Name: "free", ConversionsPerMonth: 2, RegenerationsPerMonth: 0},
		"pro":  {Name: "pro", ConversionsPerMonth: 10, RegenerationsPerMonth: 20},
	}
}

type fixture struct {
	db        *memory.DB
	usage     *UsageAccountant
	limiter   *ratelimit.Limiter
	emitter   *recordingEmitter
	admission *AdmissionService
	status    *StatusService
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	rateLimit int
	threshold float64
}

func withRateLimit(n int) fixtureOption {
	return func(c *fixtureConfig) { c.rateLimit = n }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := fixtureConfig{rateLimit: 100, threshold: 0.8}
	for _, opt := range opts {
		opt(&cfg)
	}

	db := memory.NewDB()
	stores := db.Stores()
	log := discardLogger()

	usage, err := NewUsageAccountant(stores.Usage, stores.Accounts, UsageConfig{
		Plans:             testPlans(),
		DefaultPlan:       "free",
		LowUsageThreshold: cfg.threshold,
	}, log)
	require.NoError(t, err)

	registry := source.NewRegistry(log)
	registry.Register(domain.SourceKindText, source.TextAdapter{MinWords: 5})
	registry.Register(domain.SourceKindVideo, source.AdapterFunc(
		func(context.Context, string) (*source.Source, error) {
			return nil, domain.NewInputError(domain.SourceKindVideo, "no_captions", "video has no captions")
		}))
	registry.Register(domain.SourceKindArticle, source.AdapterFunc(
		func(context.Context, string) (*source.Source, error) {
			return nil, errors.New("extractor exploded")
		}))

	limiter := ratelimit.New(cfg.rateLimit, time.Minute)
	emitter := &recordingEmitter{}

	admission, err := NewAdmissionService(db, usage, limiter, registry, emitter, log)
	require.NoError(t, err)

	status, err := NewStatusService(stores.Conversions, stores.Outputs, usage, log)
	require.NoError(t, err)

	return &fixture{
		db:        db,
		usage:     usage,
		limiter:   limiter,
		emitter:   emitter,
		admission: admission,
		status:    status,
	}
}
