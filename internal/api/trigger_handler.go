package api

import (
	"context"
	"net/http"
	"time"

	"github.com/phrazzld/repurpose/internal/api/shared"
	"github.com/phrazzld/repurpose/internal/platform/logger"
	"github.com/phrazzld/repurpose/internal/task"
)

// TriggerHandler runs generation for one conversion on behalf of an
// internal caller. It must be mounted behind RequireInternalSecret.
type TriggerHandler struct {
	runner  task.Runner
	timeout time.Duration
}

// NewTriggerHandler creates a TriggerHandler that gives each run timeout.
func NewTriggerHandler(runner task.Runner, timeout time.Duration) *TriggerHandler {
	return &TriggerHandler{runner: runner, timeout: timeout}
}

// Generate handles POST /internal/conversions/{id}/generate. The run is
// detached from the request so a caller hanging up does not abort it.
func (h *TriggerHandler) Generate(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	state, err := h.runner.Run(ctx, id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	logger.FromContext(r.Context()).Info("generation triggered",
		"conversion_id", id,
		"state", state)
	shared.RespondWithJSON(w, r, http.StatusOK, TriggerResponse{JobID: id, State: string(state)})
}
