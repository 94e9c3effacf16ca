package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the service layer.
const (
	// TypeConversionRequested asks for a newly admitted conversion to be
	// generated out of band.
	TypeConversionRequested = "conversion.requested"

	// TypeUsageLowThreshold reports that a user crossed the low-usage
	// threshold for the current billing period.
	TypeUsageLowThreshold = "usage.low_threshold"
)

// Event is a message published by a service without knowledge of who
// consumes it.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type selects which handlers act on the event
	Type string `json:"type"`

	// Payload contains the type-specific data serialized as JSON
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// ConversionRequested is the payload of TypeConversionRequested.
type ConversionRequested struct {
	ConversionID uuid.UUID `json:"conversion_id"`
	UserID       uuid.UUID `json:"user_id"`
}

// UsageLowThreshold is the payload of TypeUsageLowThreshold.
type UsageLowThreshold struct {
	UserID      uuid.UUID `json:"user_id"`
	Plan        string    `json:"plan"`
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
	PeriodStart time.Time `json:"period_start"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *Event) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// NewEvent creates a new Event with the specified type and payload.
func NewEvent(eventType string, payload any) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   payloadBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Handlers must not block on long-running work; anything slow belongs
	// in a goroutine the handler owns.
	HandleEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *Event) error
}
