package client

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/api"
	"github.com/phrazzld/repurpose/internal/domain"
)

// PollOptions bounds Wait. Zero values take the defaults.
type PollOptions struct {
	Interval    time.Duration
	MaxAttempts int
	// OnPoll, when set, sees every intermediate status.
	OnPoll func(attempt int, status *api.ConversionStatusResponse)
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultPollInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultPollMaxAttempts
	}
	return o
}

// Wait polls the conversion until it is completed or failed and returns
// that status. A failed conversion is a result, not an error. After
// MaxAttempts non-terminal polls it returns the last status with
// ErrPollTimeout.
func (c *Client) Wait(ctx context.Context, id uuid.UUID, opts PollOptions) (*api.ConversionStatusResponse, error) {
	opts = opts.withDefaults()

	var last *api.ConversionStatusResponse
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		status, err := c.Status(ctx, id)
		if err != nil {
			return last, err
		}
		last = status
		if opts.OnPoll != nil {
			opts.OnPoll(attempt, status)
		}
		if domain.ConversionStatus(status.State).IsTerminal() {
			return status, nil
		}
		if attempt == opts.MaxAttempts {
			break
		}

		timer := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}
	}
	return last, ErrPollTimeout
}
