package pipeline

import (
	"context"
	"math/rand/v2"
	"time"
)

// BackoffConfig configures exponential backoff between attempts
type BackoffConfig struct {
	BaseDelay  time.Duration // Ceiling before the second attempt
	MaxDelay   time.Duration // Cap on any single ceiling
	Multiplier float64       // Growth of the ceiling per attempt
}

// DefaultBackoff returns the delays used for external calls
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}
}

// ceiling returns the upper bound of the delay after the given failed
// attempt (1-based).
func (b BackoffConfig) ceiling(attempt int) time.Duration {
	d := float64(b.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= b.Multiplier
		if d >= float64(b.MaxDelay) {
			return b.MaxDelay
		}
	}
	if d > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(d)
}

// Delay returns a full-jitter delay in [0, ceiling(attempt)]
func (b BackoffConfig) Delay(attempt int) time.Duration {
	c := b.ceiling(attempt)
	if c <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(c) + 1))
}

// wait sleeps for d or until ctx is done
func wait(ctx context.Context, d time.Duration) error {
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
