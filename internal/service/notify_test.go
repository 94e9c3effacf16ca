package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/events"
	"github.com/phrazzld/repurpose/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notifierFunc func(ctx context.Context, notice events.UsageLowThreshold) error

func (f notifierFunc) NotifyLowUsage(ctx context.Context, notice events.UsageLowThreshold) error {
	return f(ctx, notice)
}

func sampleNotice() events.UsageLowThreshold {
	return events.UsageLowThreshold{
		UserID:      uuid.New(),
		Plan:        "pro",
		Used:        8,
		Limit:       10,
		PeriodStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestWebhookNotifier(t *testing.T) {
	t.Parallel()

	notice := sampleNotice()
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	require.NoError(t, n.NotifyLowUsage(context.Background(), notice))

	body := <-received
	assert.Equal(t, events.TypeUsageLowThreshold, body["type"])
	assert.Equal(t, notice.UserID.String(), body["user_id"])
	assert.EqualValues(t, 8, body["used"])
	assert.EqualValues(t, 10, body["limit"])
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := WebhookNotifier{URL: srv.URL}
	err := n.NotifyLowUsage(context.Background(), sampleNotice())
	assert.ErrorContains(t, err, "502")
}

func TestLogNotifier(t *testing.T) {
	t.Parallel()

	log, rec := logger.NewRecorder()
	assert.NoError(t, LogNotifier{Logger: log}.NotifyLowUsage(context.Background(), sampleNotice()))
	entry, ok := rec.Find("low usage notice")
	require.True(t, ok)
	assert.Equal(t, "pro", entry["plan"])
	assert.Equal(t, float64(8), entry["used"])
	assert.Equal(t, float64(10), entry["limit"])

	assert.NoError(t, LogNotifier{}.NotifyLowUsage(context.Background(), sampleNotice()))
}

func TestNotificationHandler(t *testing.T) {
	t.Parallel()

	delivered := make(chan events.UsageLowThreshold, 1)
	h := NewNotificationHandler(notifierFunc(func(ctx context.Context, n events.UsageLowThreshold) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		delivered <- n
		return nil
	}), time.Second, discardLogger())

	notice := sampleNotice()
	event, err := events.NewEvent(events.TypeUsageLowThreshold, notice)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.HandleEvent(ctx, event))
	cancel()

	select {
	case got := <-delivered:
		assert.Equal(t, notice.UserID, got.UserID)
		assert.Equal(t, notice.Used, got.Used)
	case <-time.After(2 * time.Second):
		t.Fatal("notice was not delivered")
	}
}

func TestNotificationHandlerDrain(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	delivered := make(chan struct{})
	h := NewNotificationHandler(notifierFunc(func(ctx context.Context, _ events.UsageLowThreshold) error {
		<-release
		close(delivered)
		return nil
	}), time.Minute, discardLogger())

	event, err := events.NewEvent(events.TypeUsageLowThreshold, sampleNotice())
	require.NoError(t, err)
	require.NoError(t, h.HandleEvent(context.Background(), event))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Drain(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, h.Drain(context.Background()))
	select {
	case <-delivered:
	default:
		t.Fatal("drain returned before the notice was delivered")
	}
}

func TestNotificationHandlerIgnoresOtherEvents(t *testing.T) {
	t.Parallel()

	h := NewNotificationHandler(notifierFunc(func(context.Context, events.UsageLowThreshold) error {
		t.Error("notifier must not be called")
		return nil
	}), 0, nil)

	event, err := events.NewEvent(events.TypeConversionRequested, events.ConversionRequested{ConversionID: uuid.New()})
	require.NoError(t, err)
	assert.NoError(t, h.HandleEvent(context.Background(), event))
}

func TestNotificationHandlerRejectsBadPayload(t *testing.T) {
	t.Parallel()

	h := NewNotificationHandler(LogNotifier{}, 0, discardLogger())
	event := &events.Event{Type: events.TypeUsageLowThreshold, Payload: json.RawMessage(`"nope"`)}
	assert.Error(t, h.HandleEvent(context.Background(), event))
}
