// Package clock provides the time source shared by the resilience components.
package clock

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the clockwork clock; tests pass clockwork.NewFakeClock().
type Clock = clockwork.Clock

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Real returns the wall clock.
func Real() Clock {
	return clockwork.NewRealClock()
}

// Sleeper returns a SleepFunc driven by c.
func Sleeper(c Clock) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		if d <= 0 {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.After(d):
			return nil
		}
	}
}

// Advancing returns a SleepFunc that moves a fake clock forward instead of blocking.
func Advancing(c clockwork.FakeClock) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.Advance(d)
		return nil
	}
}

// HourBucket formats t as the hour bucket used in counter keys.
func HourBucket(t time.Time) string {
	return t.UTC().Format("2006010215")
}
