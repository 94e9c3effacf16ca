package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/store"
)

// ReaperConfig holds configuration for the reaper
type ReaperConfig struct {
	// Interval is the time between sweeps
	Interval time.Duration

	// StaleAfter is how long a conversion may stay processing before it is
	// failed
	StaleAfter time.Duration

	// RedispatchPendingAfter is how long a conversion may stay pending
	// before its trigger is considered lost
	RedispatchPendingAfter time.Duration

	// BatchSize caps the pending conversions re-dispatched per sweep
	BatchSize int
}

// SweepResult reports what one sweep did.
type SweepResult struct {
	Failed       []uuid.UUID
	Redispatched []uuid.UUID
}

// Reaper reclaims conversions the normal path left behind.
type Reaper struct {
	conversions store.ConversionStore
	trigger     Trigger
	config      ReaperConfig
	now         func() time.Time
	logger      *slog.Logger

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewReaper creates a Reaper.
func NewReaper(
	conversions store.ConversionStore,
	trigger Trigger,
	config ReaperConfig,
	logger *slog.Logger,
) (*Reaper, error) {
	if conversions == nil {
		return nil, ErrNilStore
	}
	if trigger == nil {
		return nil, ErrNilTrigger
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		conversions: conversions,
		trigger:     trigger,
		config:      config,
		now:         time.Now,
		logger:      logger.With("component", "reaper"),
	}, nil
}

// Sweep fails stale processing conversions and re-dispatches old pending
// ones.
func (r *Reaper) Sweep(ctx context.Context) (*SweepResult, error) {
	now := r.now().UTC()
	result := &SweepResult{}

	if r.config.StaleAfter > 0 {
		message := fmt.Sprintf("generation timed out: no result after %s", r.config.StaleAfter)
		failed, err := r.conversions.FailStaleProcessing(ctx, now.Add(-r.config.StaleAfter), message, now)
		if err != nil {
			return result, fmt.Errorf("failed to fail stale conversions: %w", err)
		}
		result.Failed = failed
		if len(failed) > 0 {
			r.logger.WarnContext(ctx, "failed stale conversions", "count", len(failed), "ids", failed)
		}
	}

	if r.config.RedispatchPendingAfter > 0 {
		pending, err := r.conversions.FindPendingOlderThan(ctx, now.Add(-r.config.RedispatchPendingAfter), r.config.BatchSize)
		if err != nil {
			return result, fmt.Errorf("failed to find pending conversions: %w", err)
		}
		for _, id := range pending {
			if err := r.trigger.Dispatch(id); err != nil {
				r.logger.ErrorContext(ctx, "failed to re-dispatch conversion",
					"conversion_id", id,
					"error", err)
				continue
			}
			result.Redispatched = append(result.Redispatched, id)
		}
		if len(result.Redispatched) > 0 {
			r.logger.InfoContext(ctx, "re-dispatched pending conversions", "count", len(result.Redispatched))
		}
	}

	return result, nil
}

// Start runs Sweep every Interval until Stop.
func (r *Reaper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancelFunc = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
					r.logger.Error("reaper sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop ends the sweep loop and waits for it.
func (r *Reaper) Stop() {
	if r.cancelFunc != nil {
		r.cancelFunc()
	}
	r.wg.Wait()
}
