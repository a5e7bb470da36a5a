// Package retry runs an operation with bounded attempts and exponential backoff.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultMaxAttempts is the number of attempts used when the caller passes zero.
const DefaultMaxAttempts = 3

// Policy controls the pause between attempts.
type Policy struct {
	// Backoff returns the pause after failed attempt n (n starts at 1).
	Backoff func(attempt int) time.Duration
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy sleeps 2^attempt seconds after each failure.
func DefaultPolicy() Policy {
	return Policy{Backoff: ExponentialBackoff, Sleep: SleepContext}
}

// ExponentialBackoff returns 2^attempt seconds.
func ExponentialBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// SleepContext waits for d, returning early with ctx.Err() on cancellation.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithRetry runs op until it succeeds or maxAttempts is reached. Every failure
// is treated as retryable and logged with its attempt number; only the error
// of the final attempt is returned. If ctx is cancelled during a backoff the
// loop stops early and the last op error is returned.
func WithRetry[T any](ctx context.Context, p Policy, name string, maxAttempts int, op func(ctx context.Context) (T, error)) (T, error) {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if p.Backoff == nil {
		p.Backoff = ExponentialBackoff
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().Str("op", name).Int("attempt", attempt).Msg("succeeded after retry")
			}
			return res, nil
		}
		lastErr = err

		ev := log.Warn().Err(err).Str("op", name).Int("attempt", attempt).Int("max_attempts", maxAttempts)
		if attempt == maxAttempts {
			ev.Msg("attempt failed, giving up")
			break
		}
		wait := p.Backoff(attempt)
		ev.Dur("backoff", wait).Msg("attempt failed, retrying")

		if err := p.Sleep(ctx, wait); err != nil {
			break
		}
	}
	return zero, lastErr
}
