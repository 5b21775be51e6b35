// Package retry runs fallible operations with bounded exponential backoff.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// DefaultAttempts is used when a caller passes a non-positive attempt count.
const DefaultAttempts = 3

// Policy controls the delays between attempts. The zero value waits
// 2^attempt seconds plus up to one second of jitter on real timers.
type Policy struct {
	Base   time.Duration
	Jitter func() time.Duration
	Sleep  func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait with the 0-based number of the
	// attempt that failed.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Do calls op up to maxAttempts times using the default policy.
func Do[T any](ctx context.Context, maxAttempts int, op func(context.Context) (T, error)) (T, error) {
	return DoWithPolicy(ctx, Policy{}, maxAttempts, op)
}

// DoWithPolicy calls op until it succeeds or maxAttempts is exhausted. The
// error of the final attempt is returned unchanged. Only errors are retried.
func DoWithPolicy[T any](ctx context.Context, p Policy, maxAttempts int, op func(context.Context) (T, error)) (T, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultAttempts
	}
	var zero T
	for attempt := 0; ; attempt++ {
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		if attempt == maxAttempts-1 {
			return zero, err
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if serr := p.sleep(ctx, delay); serr != nil {
			return zero, serr
		}
	}
}

// Delay returns the wait after the given failed attempt:
// 2^attempt * base + jitter.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	d := base << uint(attempt)
	if p.Jitter != nil {
		return d + p.Jitter()
	}
	return d + time.Duration(rand.Int64N(int64(time.Second)))
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
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
