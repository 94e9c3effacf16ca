package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/repurpose/internal/api/middleware"
	"github.com/phrazzld/repurpose/internal/api/shared"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/service/auth"
)

// RouterConfig carries the collaborators behind the HTTP routes.
type RouterConfig struct {
	Logger         *slog.Logger
	Verifier       auth.TokenVerifier
	Conversions    *ConversionHandler
	Trigger        *TriggerHandler
	InternalSecret string
	// HealthCheck reports dependency health; nil means always healthy.
	HealthCheck func(ctx context.Context) error
}

// NewRouter builds the chi router with the standard middleware stack.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.NewTraceMiddleware(cfg.Logger))

	authMiddleware := middleware.NewAuthMiddleware(cfg.Verifier)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)
		r.Post("/conversions", cfg.Conversions.CreateConversion)
		r.Get("/conversions/{id}", cfg.Conversions.GetConversion)
		r.Get("/usage", cfg.Conversions.GetUsage)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(middleware.RequireInternalSecret(cfg.InternalSecret))
		r.Post("/conversions/{id}/generate", cfg.Trigger.Generate)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.HealthCheck != nil {
			if err := cfg.HealthCheck(r.Context()); err != nil {
				shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable,
					string(domain.CodeInternal), "Unhealthy", err)
				return
			}
		}
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
