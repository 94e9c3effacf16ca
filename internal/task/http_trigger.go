package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TriggerPath returns the internal endpoint path that runs a conversion.
func TriggerPath(conversionID uuid.UUID) string {
	return "/internal/conversions/" + conversionID.String() + "/generate"
}

// HTTPTrigger dispatches by calling the internal trigger endpoint of a server
// instance, which runs the conversion synchronously within its own budget.
// The call is made from a goroutine; Dispatch never waits for it.
type HTTPTrigger struct {
	baseURL string
	secret  string
	client  *http.Client
	logger  *slog.Logger

	calls Tracker
}

var _ Trigger = (*HTTPTrigger)(nil)

// NewHTTPTrigger creates an HTTPTrigger. timeout bounds each call and should
// exceed the server's task budget.
func NewHTTPTrigger(baseURL, secret string, timeout time.Duration, logger *slog.Logger) *HTTPTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTrigger{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  strings.TrimSpace(secret),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "http_trigger"),
	}
}

// Dispatch implements Trigger.
func (t *HTTPTrigger) Dispatch(conversionID uuid.UUID) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost,
		t.baseURL+TriggerPath(conversionID), nil)
	if err != nil {
		return fmt.Errorf("failed to build trigger request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.secret)

	t.calls.Add()
	go func() {
		defer t.calls.Done()
		log := t.logger.With("conversion_id", conversionID)

		resp, err := t.client.Do(req)
		if err != nil {
			log.Error("trigger call failed", "error", err)
			return
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 300 {
			log.Error("trigger call rejected", "status", resp.StatusCode)
			return
		}
		log.Debug("trigger call finished", "status", resp.StatusCode)
	}()
	return nil
}

// Wait blocks until every outstanding trigger call has returned.
func (t *HTTPTrigger) Wait() {
	<-t.calls.Idle()
}

// Drain waits for outstanding trigger calls until ctx is done.
func (t *HTTPTrigger) Drain(ctx context.Context) error {
	return t.calls.Wait(ctx)
}
