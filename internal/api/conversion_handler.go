package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/api/shared"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/platform/logger"
	"github.com/phrazzld/repurpose/internal/ratelimit"
	"github.com/phrazzld/repurpose/internal/service"
)

// Admitter admits conversion requests.
type Admitter interface {
	Admit(ctx context.Context, req service.AdmissionRequest) (*service.Admission, error)
}

// StatusReader serves the status poll and usage views.
type StatusReader interface {
	GetStatus(ctx context.Context, callerID, id uuid.UUID) (*service.StatusView, error)
	Usage(ctx context.Context, callerID uuid.UUID) (domain.UsageSnapshot, error)
}

// ConversionHandler handles the caller-facing conversion endpoints.
type ConversionHandler struct {
	admission Admitter
	status    StatusReader
}

// NewConversionHandler creates a ConversionHandler.
func NewConversionHandler(admission Admitter, status StatusReader) *ConversionHandler {
	return &ConversionHandler{admission: admission, status: status}
}

// CreateConversion handles POST /api/conversions.
func (h *ConversionHandler) CreateConversion(w http.ResponseWriter, r *http.Request) {
	userID, ok := handleUserID(w, r)
	if !ok {
		return
	}

	var req CreateConversionRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	admission, err := h.admission.Admit(r.Context(), service.AdmissionRequest{
		UserID:       userID,
		RateLimitKey: ratelimit.Key(r, userID),
		SourceKind:   req.SourceKind,
		InputValue:   req.InputValue,
		Tone:         req.Tone,
		Topics:       req.Topics,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	logger.FromContext(r.Context()).Debug("conversion accepted", "conversion_id", admission.ConversionID)
	shared.RespondWithJSON(w, r, http.StatusAccepted, admissionToResponse(admission))
}

// GetConversion handles GET /api/conversions/{id}.
func (h *ConversionHandler) GetConversion(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	view, err := h.status.GetStatus(r.Context(), userID, id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, statusToResponse(view))
}

// GetUsage handles GET /api/usage.
func (h *ConversionHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := handleUserID(w, r)
	if !ok {
		return
	}

	snapshot, err := h.status.Usage(r.Context(), userID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, snapshot)
}
