package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/repurpose/internal/events"
)

// ConversionEventHandler implements the events.EventHandler interface by
// handing conversion.requested events to a Trigger.
type ConversionEventHandler struct {
	trigger Trigger
	logger  *slog.Logger
}

// Ensure ConversionEventHandler implements events.EventHandler
var _ events.EventHandler = (*ConversionEventHandler)(nil)

// NewConversionEventHandler creates a new event handler that dispatches
// requested conversions through trigger.
func NewConversionEventHandler(trigger Trigger, logger *slog.Logger) (*ConversionEventHandler, error) {
	if trigger == nil {
		return nil, ErrNilTrigger
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversionEventHandler{
		trigger: trigger,
		logger:  logger.With("component", "conversion_event_handler"),
	}, nil
}

// HandleEvent dispatches the conversion named in the event payload.
func (h *ConversionEventHandler) HandleEvent(ctx context.Context, event *events.Event) error {
	if event.Type != events.TypeConversionRequested {
		h.logger.Debug("ignoring event with unsupported type",
			"event_type", event.Type,
			"event_id", event.ID)
		return nil
	}

	var payload events.ConversionRequested
	if err := event.UnmarshalPayload(&payload); err != nil {
		h.logger.Error("failed to unmarshal payload", "error", err, "event_id", event.ID)
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	if err := h.trigger.Dispatch(payload.ConversionID); err != nil {
		h.logger.Error("failed to dispatch conversion",
			"error", err,
			"conversion_id", payload.ConversionID,
			"event_id", event.ID)
		return fmt.Errorf("failed to dispatch conversion: %w", err)
	}

	h.logger.Debug("conversion dispatched",
		"conversion_id", payload.ConversionID,
		"event_id", event.ID)
	return nil
}
