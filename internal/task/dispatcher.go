package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Dispatcher runs each conversion in its own goroutine. There is no queue:
// a dispatched conversion starts immediately and nobody waits for it.
type Dispatcher struct {
	runner  Runner
	timeout time.Duration
	logger  *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	flights    Tracker

	mu       sync.Mutex
	stopped  bool
	inflight map[uuid.UUID]struct{}
}

var _ Trigger = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher. Each run gets timeout as its wall-clock
// budget; zero means no budget.
func NewDispatcher(runner Runner, timeout time.Duration, logger *slog.Logger) (*Dispatcher, error) {
	if runner == nil {
		return nil, ErrNilRunner
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner:     runner,
		timeout:    timeout,
		logger:     logger.With("component", "dispatcher"),
		ctx:        ctx,
		cancelFunc: cancel,
		inflight:   make(map[uuid.UUID]struct{}),
	}, nil
}

// Dispatch starts generation of conversionID and returns immediately. A
// conversion already running in this process is not started twice.
func (d *Dispatcher) Dispatch(conversionID uuid.UUID) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrDispatcherStopped
	}
	if _, running := d.inflight[conversionID]; running {
		d.mu.Unlock()
		d.logger.Debug("conversion already running", "conversion_id", conversionID)
		return nil
	}
	d.inflight[conversionID] = struct{}{}
	d.flights.Add()
	d.mu.Unlock()

	go d.run(conversionID)
	return nil
}

func (d *Dispatcher) run(conversionID uuid.UUID) {
	defer d.flights.Done()
	defer func() {
		d.mu.Lock()
		delete(d.inflight, conversionID)
		d.mu.Unlock()
	}()

	log := d.logger.With("conversion_id", conversionID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("conversion run panicked", "panic", fmt.Sprint(r))
		}
	}()

	ctx := d.ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	status, err := d.runner.Run(ctx, conversionID)
	if err != nil {
		log.Error("conversion run failed", "error", err, "duration", time.Since(start))
		return
	}
	log.Info("conversion run finished", "status", status, "duration", time.Since(start))
}

// Running returns the number of conversions currently running.
func (d *Dispatcher) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Wait blocks until every dispatched run has returned.
func (d *Dispatcher) Wait() {
	<-d.flights.Idle()
}

// Drain waits for running conversions without cancelling them. It returns
// ctx.Err() if they are still running when ctx is done.
func (d *Dispatcher) Drain(ctx context.Context) error {
	return d.flights.Wait(ctx)
}

// Stop refuses new dispatches, cancels running conversions and waits for
// them to return. Cancelled runs record a failure on their conversion.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	d.cancelFunc()
	d.Wait()
}
