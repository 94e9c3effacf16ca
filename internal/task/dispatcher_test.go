package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runnerFunc func(ctx context.Context, id uuid.UUID) (domain.ConversionStatus, error)

func (f runnerFunc) Run(ctx context.Context, id uuid.UUID) (domain.ConversionStatus, error) {
	return f(ctx, id)
}

// triggerRecorder implements Trigger by recording ids.
type triggerRecorder struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (r *triggerRecorder) Dispatch(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.ids = append(r.ids, id)
	return nil
}

func (r *triggerRecorder) IDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.ids...)
}

func TestDispatcher_RunsDetached(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var runs atomic.Int32
	d, err := NewDispatcher(runnerFunc(func(ctx context.Context, id uuid.UUID) (domain.ConversionStatus, error) {
		runs.Add(1)
		<-release
		return domain.StatusCompleted, nil
	}), time.Minute, discardLogger())
	require.NoError(t, err)

	id := uuid.New()
	require.NoError(t, d.Dispatch(id))

	// Dispatch returned while the run is still blocked
	assert.Eventually(t, func() bool { return d.Running() == 1 }, time.Second, time.Millisecond)

	// A duplicate dispatch for a running conversion is absorbed
	require.NoError(t, d.Dispatch(id))

	close(release)
	d.Wait()
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, 0, d.Running())
}

func TestDispatcher_AppliesTimeout(t *testing.T) {
	t.Parallel()

	deadlines := make(chan bool, 1)
	d, err := NewDispatcher(runnerFunc(func(ctx context.Context, id uuid.UUID) (domain.ConversionStatus, error) {
		_, ok := ctx.Deadline()
		deadlines <- ok
		return domain.StatusCompleted, nil
	}), 2*time.Minute, discardLogger())
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(uuid.New()))
	d.Wait()
	assert.True(t, <-deadlines)
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(runnerFunc(func(ctx context.Context, id uuid.UUID) (domain.ConversionStatus, error) {
		panic("boom")
	}), 0, discardLogger())
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(uuid.New()))
	d.Wait()
	assert.Equal(t, 0, d.Running())
}

func TestDispatcher_StopCancelsRuns(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var cancelled atomic.Bool
	d, err := NewDispatcher(runnerFunc(func(ctx context.Context, id uuid.UUID) (domain.ConversionStatus, error) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return domain.StatusFailed, nil
	}), time.Hour, discardLogger())
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(uuid.New()))
	<-started

	d.Stop()
	assert.True(t, cancelled.Load())
	assert.ErrorIs(t, d.Dispatch(uuid.New()), ErrDispatcherStopped)
}

func TestDispatcher_DrainRespectsDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	d, err := NewDispatcher(runnerFunc(func(ctx context.Context, id uuid.UUID) (domain.ConversionStatus, error) {
		<-release
		return domain.StatusCompleted, nil
	}), time.Minute, discardLogger())
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(uuid.New()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Drain(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, d.Running())

	close(release)
	assert.NoError(t, d.Drain(context.Background()))
	assert.Equal(t, 0, d.Running())
}

func TestNewDispatcher_NilRunner(t *testing.T) {
	t.Parallel()

	_, err := NewDispatcher(nil, time.Minute, nil)
	assert.ErrorIs(t, err, ErrNilRunner)
}

func TestConversionEventHandler(t *testing.T) {
	t.Parallel()

	trigger := &triggerRecorder{}
	h, err := NewConversionEventHandler(trigger, discardLogger())
	require.NoError(t, err)

	id := uuid.New()
	event, err := events.NewEvent(events.TypeConversionRequested, events.ConversionRequested{
		ConversionID: id,
		UserID:       uuid.New(),
	})
	require.NoError(t, err)
	require.NoError(t, h.HandleEvent(context.Background(), event))
	assert.Equal(t, []uuid.UUID{id}, trigger.IDs())

	other, err := events.NewEvent(events.TypeUsageLowThreshold, events.UsageLowThreshold{})
	require.NoError(t, err)
	require.NoError(t, h.HandleEvent(context.Background(), other))
	assert.Len(t, trigger.IDs(), 1)

	malformed := &events.Event{Type: events.TypeConversionRequested, Payload: []byte(`{`)}
	assert.Error(t, h.HandleEvent(context.Background(), malformed))

	trigger.err = ErrDispatcherStopped
	assert.ErrorIs(t, h.HandleEvent(context.Background(), event), ErrDispatcherStopped)
}

func TestDispatcher_EndToEndWithEmitter(t *testing.T) {
	t.Parallel()

	done := make(chan uuid.UUID, 1)
	d, err := NewDispatcher(runnerFunc(func(ctx context.Context, id uuid.UUID) (domain.ConversionStatus, error) {
		done <- id
		return domain.StatusCompleted, nil
	}), time.Minute, discardLogger())
	require.NoError(t, err)
	t.Cleanup(d.Stop)

	h, err := NewConversionEventHandler(d, discardLogger())
	require.NoError(t, err)
	emitter := events.NewInMemoryEventEmitter(discardLogger())
	emitter.Subscribe(events.TypeConversionRequested, h)

	id := uuid.New()
	event, err := events.NewEvent(events.TypeConversionRequested, events.ConversionRequested{ConversionID: id})
	require.NoError(t, err)
	require.NoError(t, emitter.EmitEvent(context.Background(), event))

	select {
	case got := <-done:
		assert.Equal(t, id, got)
	case <-time.After(5 * time.Second):
		t.Fatal("conversion was not dispatched")
	}
}
