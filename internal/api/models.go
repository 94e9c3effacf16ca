package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/service"
)

// CreateConversionRequest is the body of POST /api/conversions. Vocabulary
// checks (kind, tone) happen in admission so accented tones are accepted.
type CreateConversionRequest struct {
	SourceKind string   `json:"sourceKind" validate:"required"`
	InputValue string   `json:"inputValue" validate:"required"`
	Tone       string   `json:"tone"       validate:"required"`
	Topics     []string `json:"topics"     validate:"omitempty,max=5,dive,required,max=60"`
}

// CreateConversionResponse is returned with 202 Accepted.
type CreateConversionResponse struct {
	JobID          uuid.UUID            `json:"jobId"`
	State          string               `json:"state"`
	SourceMetadata map[string]any       `json:"sourceMetadata"`
	UsageSnapshot  domain.UsageSnapshot `json:"usageSnapshot"`
}

// OutputResponse is one generated output.
type OutputResponse struct {
	Format     string    `json:"format"`
	Content    string    `json:"content"`
	Version    int       `json:"version"`
	TokensUsed int       `json:"tokensUsed"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ConversionStatusResponse is the status poll body. Outputs and usage appear
// once completed; Error once failed.
type ConversionStatusResponse struct {
	JobID            uuid.UUID             `json:"jobId"`
	State            string                `json:"state"`
	CompletedFormats []string              `json:"completedFormats"`
	Outputs          []OutputResponse      `json:"outputs,omitempty"`
	UsageSnapshot    *domain.UsageSnapshot `json:"usageSnapshot,omitempty"`
	Error            string                `json:"error,omitempty"`
}

// TriggerResponse is returned by the internal generation trigger.
type TriggerResponse struct {
	JobID uuid.UUID `json:"jobId"`
	State string    `json:"state"`
}

func admissionToResponse(a *service.Admission) CreateConversionResponse {
	return CreateConversionResponse{
		JobID:          a.ConversionID,
		State:          string(a.State),
		SourceMetadata: a.SourceMetadata,
		UsageSnapshot:  a.Usage,
	}
}

func statusToResponse(v *service.StatusView) ConversionStatusResponse {
	resp := ConversionStatusResponse{
		JobID:            v.ConversionID,
		State:            string(v.State),
		CompletedFormats: make([]string, 0, len(v.CompletedFormats)),
		UsageSnapshot:    v.Usage,
		Error:            v.Error,
	}
	for _, f := range v.CompletedFormats {
		resp.CompletedFormats = append(resp.CompletedFormats, string(f))
	}
	for _, o := range v.Outputs {
		resp.Outputs = append(resp.Outputs, OutputResponse{
			Format:     string(o.Format),
			Content:    o.Content,
			Version:    o.Version,
			TokensUsed: o.TokensUsed,
			CreatedAt:  o.CreatedAt,
		})
	}
	return resp
}
