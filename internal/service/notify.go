package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/repurpose/internal/events"
	"github.com/phrazzld/repurpose/internal/task"
)

// Notifier delivers the low-usage notice to the user. Delivery is
// best-effort and never affects admission.
type Notifier interface {
	NotifyLowUsage(ctx context.Context, notice events.UsageLowThreshold) error
}

// LogNotifier records notices in the log only.
type LogNotifier struct {
	Logger *slog.Logger
}

// NotifyLowUsage implements Notifier.
func (n LogNotifier) NotifyLowUsage(ctx context.Context, notice events.UsageLowThreshold) error {
	log := n.Logger
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "low usage notice",
		"user_id", notice.UserID,
		"plan", notice.Plan,
		"used", notice.Used,
		"limit", notice.Limit)
	return nil
}

// WebhookNotifier posts notices as JSON to an outbound mail/notification
// service.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// NotifyLowUsage implements Notifier.
func (n WebhookNotifier) NotifyLowUsage(ctx context.Context, notice events.UsageLowThreshold) error {
	body, err := json.Marshal(struct {
		Type string `json:"type"`
		events.UsageLowThreshold
	}{Type: events.TypeUsageLowThreshold, UsageLowThreshold: notice})
	if err != nil {
		return fmt.Errorf("failed to encode notice: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notice request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notice: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notice webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NotificationHandler turns usage.low_threshold events into notifier calls.
// Each delivery runs in its own goroutine with its own deadline, detached from
// the admitting request.
type NotificationHandler struct {
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger

	deliveries task.Tracker
}

var _ events.EventHandler = (*NotificationHandler)(nil)

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(notifier Notifier, timeout time.Duration, logger *slog.Logger) *NotificationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NotificationHandler{
		notifier: notifier,
		timeout:  timeout,
		logger:   logger.With("component", "notification_handler"),
	}
}

// HandleEvent implements events.EventHandler.
func (h *NotificationHandler) HandleEvent(ctx context.Context, event *events.Event) error {
	if event.Type != events.TypeUsageLowThreshold {
		return nil
	}

	var notice events.UsageLowThreshold
	if err := event.UnmarshalPayload(&notice); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
	}

	h.deliveries.Add()
	go func() {
		defer h.deliveries.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
		defer cancel()

		if err := h.notifier.NotifyLowUsage(ctx, notice); err != nil {
			h.logger.Error("low usage notice failed",
				"error", err,
				"user_id", notice.UserID,
				"event_id", event.ID)
		}
	}()
	return nil
}

// Drain waits for deliveries in flight until ctx is done.
func (h *NotificationHandler) Drain(ctx context.Context) error {
	return h.deliveries.Wait(ctx)
}
