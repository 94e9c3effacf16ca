package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/api"
	"github.com/phrazzld/repurpose/internal/config"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/generation"
	"github.com/phrazzld/repurpose/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "thisisasecretkeythatis32charslong!!"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:            8080,
			LogLevel:        "error",
			ShutdownTimeout: 5 * time.Second,
		},
		Database: config.DatabaseConfig{Driver: "memory"},
		Auth: config.AuthConfig{
			JWTSecret:      testJWTSecret,
			InternalSecret: "internal-secret-value",
		},
		LLM: config.LLMConfig{
			Provider:          "openai",
			APIKey:            "sk-test",
			Model:             "gpt-4o-mini",
			RequestTimeout:    time.Second,
			DefaultRetryAfter: time.Second,
		},
		Generation: config.GenerationConfig{
			MaxRetries:     1,
			MaxInputChars:  20000,
			TaskTimeout:    10 * time.Second,
			Dispatch:       config.DispatchInProcess,
			PartialOutputs: "retain",
		},
		RateLimit: config.RateLimitConfig{Requests: 100, Window: time.Minute},
		Quota: config.QuotaConfig{
			LowUsageThreshold: 0.8,
			DefaultPlan:       "free",
			Plans: map[string]config.PlanConfig{
				"free": {ConversionsPerMonth: 3},
			},
		},
		Reaper: config.ReaperConfig{
			Interval:               time.Minute,
			StaleAfter:             5 * time.Minute,
			RedispatchPendingAfter: time.Minute,
		},
		Sources: config.SourcesConfig{Timeout: time.Second, MinTextWords: 5},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) (*application, *mocks.MockGenerator) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	gen := &mocks.MockGenerator{}

	app, err := newApplication(context.Background(), cfg, log, withGenerator(gen))
	require.NoError(t, err)
	t.Cleanup(app.cleanup)
	return app, gen
}

func TestConfigValidates(t *testing.T) {
	assert.NoError(t, config.Validate(testConfig()))
}

func TestNewApplicationBuildsLLMGenerator(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	app, err := newApplication(context.Background(), testConfig(), log,
		withTokenEstimator(generation.NewHeuristicTokenEstimator()))
	require.NoError(t, err)
	t.Cleanup(app.cleanup)

	assert.NotNil(t, app.generator)
	assert.NotNil(t, app.dispatcher)
	assert.Nil(t, app.reaper)
}

func TestNewApplicationRejectsShortSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "short"

	_, err := newApplication(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "JWT")
}

func TestNewApplicationHTTPDispatch(t *testing.T) {
	cfg := testConfig()
	cfg.Generation.Dispatch = config.DispatchHTTP
	cfg.Server.PublicURL = "http://localhost:8080"
	cfg.Reaper.Enabled = true

	app, _ := newTestApp(t, cfg)
	assert.Nil(t, app.dispatcher)
	assert.NotNil(t, app.trigger)
	assert.NotNil(t, app.reaper)
}

// submitText posts a text conversion through the router as userID.
func submitText(t *testing.T, app *application, userID uuid.UUID) api.CreateConversionResponse {
	t.Helper()
	srv := httptest.NewServer(app.router)
	t.Cleanup(srv.Close)

	token, err := app.verifier.GenerateToken(userID, time.Hour)
	require.NoError(t, err)

	body, err := json.Marshal(api.CreateConversionRequest{
		SourceKind: "text",
		InputValue: strings.Repeat("word ", 40),
		Tone:       "casual",
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/conversions", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created api.CreateConversionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	return created
}

func TestApplicationConvertsText(t *testing.T) {
	app, gen := newTestApp(t, testConfig())

	userID := uuid.New()
	created := submitText(t, app, userID)
	assert.Equal(t, string(domain.StatusPending), created.State)
	assert.Equal(t, 1, created.UsageSnapshot.ConversionsUsed)

	app.dispatcher.Wait()

	view, err := app.status.GetStatus(context.Background(), userID, created.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, view.State)
	assert.Len(t, view.Outputs, len(domain.Formats))
	assert.Equal(t, len(domain.Formats), gen.Calls())
}

func TestCleanupCancelsConversionsAfterShutdownTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ShutdownTimeout = 50 * time.Millisecond

	started := make(chan struct{}, 1)
	gen := &mocks.MockGenerator{GenerateFn: func(ctx context.Context, in generation.Input) (*generation.Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	app, err := newApplication(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		withGenerator(gen))
	require.NoError(t, err)

	userID := uuid.New()
	created := submitText(t, app, userID)
	<-started

	done := make(chan struct{})
	go func() {
		app.cleanup()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cleanup did not return after the shutdown timeout")
	}

	view, err := app.status.GetStatus(context.Background(), userID, created.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, view.State)
}

func TestHealthEndpoint(t *testing.T) {
	app, _ := newTestApp(t, testConfig())

	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSweepOnce(t *testing.T) {
	app, _ := newTestApp(t, testConfig())

	cmd := newReapCommand(&rootOptions{})
	cmd.SetContext(context.Background())
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, app.sweepOnce(cmd))
	assert.Equal(t, "failed 0 stale, re-dispatched 0 pending\n", out.String())
}
