package clock

import (
	"context"
	"time"
)

// Clock is an injectable time source. Retry delays and scheduling intervals
// go through a Clock so that tests can run deterministically with a fake.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for the given duration or until the context is canceled,
	// whichever comes first. Returns the context error on cancellation.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real returns the wall-clock implementation.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
