package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/domain"
)

// Common errors
var (
	ErrNilStore      = errors.New("store cannot be nil")
	ErrNilGenerator  = errors.New("generator cannot be nil")
	ErrNilRunner     = errors.New("runner cannot be nil")
	ErrNilTrigger    = errors.New("trigger cannot be nil")
	ErrInvalidPolicy = errors.New("invalid generation policy")

	// ErrDispatcherStopped is returned by Dispatch after Stop.
	ErrDispatcherStopped = errors.New("dispatcher is stopped")
)

// Runner drives one conversion to a terminal state.
type Runner interface {
	// Run returns the conversion's state when it finished with it. Failures
	// of the generation itself are recorded on the conversion, not returned.
	Run(ctx context.Context, conversionID uuid.UUID) (domain.ConversionStatus, error)
}

// Trigger starts generation of a conversion out of band. Dispatch must not
// wait for the generation to finish.
type Trigger interface {
	Dispatch(conversionID uuid.UUID) error
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
