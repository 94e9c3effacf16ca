package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/phrazzld/repurpose/internal/api"
	"github.com/phrazzld/repurpose/internal/config"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/events"
	"github.com/phrazzld/repurpose/internal/generation"
	"github.com/phrazzld/repurpose/internal/platform/llm"
	"github.com/phrazzld/repurpose/internal/platform/memory"
	"github.com/phrazzld/repurpose/internal/platform/postgres"
	"github.com/phrazzld/repurpose/internal/ratelimit"
	"github.com/phrazzld/repurpose/internal/service"
	"github.com/phrazzld/repurpose/internal/service/auth"
	"github.com/phrazzld/repurpose/internal/source"
	"github.com/phrazzld/repurpose/internal/store"
	"github.com/phrazzld/repurpose/internal/task"
)

const (
	dbPingTimeout       = 5 * time.Second
	notifyTimeout       = 10 * time.Second
	limiterPruneEvery   = time.Minute
	triggerClientMargin = 30 * time.Second
	tokenLoadTimeout    = 10 * time.Second
)

// trigger is a task.Trigger that can be drained on shutdown.
type trigger interface {
	task.Trigger
	Drain(ctx context.Context) error
}

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	// db is nil for the in-memory driver.
	db     *sql.DB
	tx     store.TxRunner
	stores store.Stores

	generator    generation.Generator
	tokens       *generation.TokenEstimator
	orchestrator *task.Orchestrator
	trigger      trigger
	dispatcher   *task.Dispatcher
	reaper       *task.Reaper
	emitter      *events.InMemoryEventEmitter
	notices      *service.NotificationHandler
	limiter      *ratelimit.Limiter
	usage        *service.UsageAccountant
	admission    *service.AdmissionService
	status       *service.StatusService
	verifier     *auth.JWTService

	router http.Handler

	stopPrune context.CancelFunc
	pruneWG   sync.WaitGroup
}

// appOption overrides a collaborator, mainly for tests.
type appOption func(*application)

// withGenerator replaces the LLM-backed generator.
func withGenerator(g generation.Generator) appOption {
	return func(app *application) { app.generator = g }
}

// withTokenEstimator replaces the tiktoken-backed prompt estimator.
func withTokenEstimator(e *generation.TokenEstimator) appOption {
	return func(app *application) { app.tokens = e }
}

// newApplication creates a new application instance with all dependencies
// initialized. Nothing is started; Run starts the background loops.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...appOption) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(app)
	}

	if err := app.setupStores(ctx); err != nil {
		return nil, err
	}

	var err error
	app.verifier, err = auth.NewJWTService(cfg.Auth.JWTSecret)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	if app.generator == nil {
		if err := app.setupGenerator(ctx); err != nil {
			app.cleanup()
			return nil, err
		}
	}

	if err := app.setupTasks(); err != nil {
		app.cleanup()
		return nil, err
	}

	if err := app.setupServices(); err != nil {
		app.cleanup()
		return nil, err
	}

	app.router = api.NewRouter(api.RouterConfig{
		Logger:         logger,
		Verifier:       app.verifier,
		Conversions:    api.NewConversionHandler(app.admission, app.status),
		Trigger:        api.NewTriggerHandler(app.orchestrator, cfg.Generation.TaskTimeout),
		InternalSecret: cfg.Auth.InternalSecret,
		HealthCheck:    app.healthCheck,
	})

	logger.Info("application initialized",
		"database_driver", cfg.Database.Driver,
		"llm_provider", cfg.LLM.Provider,
		"dispatch", cfg.Generation.Dispatch)
	return app, nil
}

func (app *application) setupStores(ctx context.Context) error {
	switch app.config.Database.Driver {
	case "memory":
		mem := memory.NewDB()
		app.tx = mem
		app.stores = mem.Stores()
		app.logger.Warn("using in-memory store, data is lost on restart")
	default:
		db, err := postgres.Open(ctx, app.config.Database, dbPingTimeout)
		if err != nil {
			return err
		}
		app.db = db
		app.tx = postgres.NewTxRunner(db, app.logger)
		app.stores = postgres.NewStores(db, app.logger)
		app.logger.Info("database connection established")
	}
	return nil
}

func (app *application) setupGenerator(ctx context.Context) error {
	client, err := llm.NewClient(ctx, app.config.LLM, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	if app.tokens == nil {
		app.tokens = generation.NewTokenEstimator()
	}
	loadCtx, cancel := context.WithTimeout(ctx, tokenLoadTimeout)
	defer cancel()
	if err := app.tokens.Load(loadCtx); err != nil {
		app.logger.Warn("tokenizer unavailable, estimating prompt tokens from length", "error", err)
	}

	app.generator, err = generation.NewGenerator(client, nil, app.tokens, generation.Config{
		Model:         app.config.LLM.Model,
		MaxInputChars: app.config.Generation.MaxInputChars,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize generator: %w", err)
	}
	return nil
}

func (app *application) setupTasks() error {
	gen := app.config.Generation

	var err error
	app.orchestrator, err = task.NewOrchestrator(
		app.stores.Conversions,
		app.stores.Outputs,
		app.generator,
		task.Policy{
			InitialDelay:     gen.InitialDelay,
			InterFormatDelay: gen.InterFormatDelay,
			RetryBackoff:     gen.RetryBackoff,
			MaxRetries:       gen.MaxRetries,
			PartialOutputs:   task.PartialOutputs(gen.PartialOutputs),
		},
		app.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	switch gen.Dispatch {
	case config.DispatchHTTP:
		app.trigger = task.NewHTTPTrigger(app.config.Server.PublicURL, app.config.Auth.InternalSecret,
			gen.TaskTimeout+triggerClientMargin, app.logger)
	default:
		app.dispatcher, err = task.NewDispatcher(app.orchestrator, gen.TaskTimeout, app.logger)
		if err != nil {
			return fmt.Errorf("failed to create dispatcher: %w", err)
		}
		app.trigger = app.dispatcher
	}

	if app.config.Reaper.Enabled {
		app.reaper, err = task.NewReaper(app.stores.Conversions, app.trigger, reaperConfig(app.config.Reaper), app.logger)
		if err != nil {
			return fmt.Errorf("failed to create reaper: %w", err)
		}
	}
	return nil
}

func reaperConfig(cfg config.ReaperConfig) task.ReaperConfig {
	return task.ReaperConfig{
		Interval:               cfg.Interval,
		StaleAfter:             cfg.StaleAfter,
		RedispatchPendingAfter: cfg.RedispatchPendingAfter,
	}
}

func (app *application) setupServices() error {
	cfg := app.config

	plans := make(map[string]domain.Plan, len(cfg.Quota.Plans))
	for name, p := range cfg.Quota.Plans {
		plans[name] = domain.Plan{
			Name:                  name,
			ConversionsPerMonth:   p.ConversionsPerMonth,
			RegenerationsPerMonth: p.RegenerationsPerMonth,
		}
	}

	var err error
	app.usage, err = service.NewUsageAccountant(app.stores.Usage, app.stores.Accounts, service.UsageConfig{
		Plans:             plans,
		DefaultPlan:       cfg.Quota.DefaultPlan,
		LowUsageThreshold: cfg.Quota.LowUsageThreshold,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create usage accountant: %w", err)
	}

	app.emitter = events.NewInMemoryEventEmitter(app.logger)
	conversionHandler, err := task.NewConversionEventHandler(app.trigger, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create conversion event handler: %w", err)
	}
	app.emitter.Subscribe(events.TypeConversionRequested, conversionHandler)
	app.notices = service.NewNotificationHandler(app.notifier(), notifyTimeout, app.logger)
	app.emitter.Subscribe(events.TypeUsageLowThreshold, app.notices)

	app.limiter = ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window)

	app.admission, err = service.NewAdmissionService(app.tx, app.usage, app.limiter, app.sourceRegistry(),
		app.emitter, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create admission service: %w", err)
	}

	app.status, err = service.NewStatusService(app.stores.Conversions, app.stores.Outputs, app.usage, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create status service: %w", err)
	}
	return nil
}

func (app *application) notifier() service.Notifier {
	if url := app.config.Notify.WebhookURL; url != "" {
		return service.WebhookNotifier{URL: url, Client: &http.Client{Timeout: notifyTimeout}}
	}
	return service.LogNotifier{Logger: app.logger}
}

// sourceRegistry registers the text adapter and, when an extractor is
// configured, the remote video and article adapters.
func (app *application) sourceRegistry() *source.Registry {
	cfg := app.config.Sources
	registry := source.NewRegistry(app.logger)
	registry.Register(domain.SourceKindText, source.TextAdapter{MinWords: cfg.MinTextWords})

	if cfg.ExtractorURL == "" {
		app.logger.Info("no source extractor configured, video and article sources are disabled")
		return registry
	}
	client := &http.Client{Timeout: cfg.Timeout}
	for _, kind := range []domain.SourceKind{domain.SourceKindVideo, domain.SourceKindArticle} {
		registry.Register(kind, source.NewRemoteAdapter(kind, cfg.ExtractorURL, client, cfg.Timeout, app.logger))
	}
	return registry
}

func (app *application) healthCheck(ctx context.Context) error {
	if app.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	return app.db.PingContext(ctx)
}

// startBackground starts the reaper and the limiter prune loop.
func (app *application) startBackground() {
	if app.reaper != nil {
		app.reaper.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	app.stopPrune = cancel
	app.pruneWG.Add(1)
	go func() {
		defer app.pruneWG.Done()
		ticker := time.NewTicker(limiterPruneEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := app.limiter.Prune(); n > 0 {
					app.logger.Debug("pruned idle rate limit keys", "count", n)
				}
			}
		}
	}()
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (app *application) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	app.startBackground()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		app.logger.Info("shutting down server")
	case serveErr = <-errCh:
		app.logger.Error("server failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("server shutdown failed", "error", err)
	}
	app.cleanup()

	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	app.logger.Info("server shutdown completed")
	return nil
}

// cleanup handles graceful shutdown of application resources. In-flight
// conversions are drained before the database is closed.
func (app *application) cleanup() {
	if app.reaper != nil {
		app.reaper.Stop()
	}
	if app.stopPrune != nil {
		app.stopPrune()
		app.pruneWG.Wait()
	}
	app.drain()
	if app.dispatcher != nil {
		app.dispatcher.Stop()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
}

// drain waits up to the shutdown timeout for in-flight conversions and
// low-usage notices.
func (app *application) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if app.trigger != nil {
		if err := app.trigger.Drain(ctx); err != nil {
			app.logger.Warn("conversions still running at shutdown, cancelling them", "error", err)
		}
	}
	if app.notices != nil {
		if err := app.notices.Drain(ctx); err != nil {
			app.logger.Warn("low usage notices still in flight at shutdown", "error", err)
		}
	}
}
