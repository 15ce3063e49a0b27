package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines are running.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when one of the recent GC pauses exceeds threshold.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		for _, pause := range stats.Pause {
			if pause > threshold {
				return errors.Errorf("GC pause %s exceeds threshold %s", pause, threshold)
			}
		}
		return nil
	}
}

// FreshnessCheck fails when last reports a time older than maxAge, or the
// zero time. Use it for data refreshed in the background.
func FreshnessCheck(last func() time.Time, maxAge time.Duration) CheckFunc {
	return func(context.Context) error {
		t := last()
		if t.IsZero() {
			return errors.New("never refreshed")
		}
		if age := time.Since(t); age > maxAge {
			return errors.Errorf("last refreshed %s ago, limit %s", age.Round(time.Second), maxAge)
		}
		return nil
	}
}
