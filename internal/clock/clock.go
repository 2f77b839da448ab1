// Package clock holds the time hooks shared by components that pace or wait.
package clock

import (
	"context"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// NowFunc returns the current time.
type NowFunc func() time.Time

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// NoSleep returns immediately unless ctx is already done. Tests use it.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
