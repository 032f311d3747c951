package retry

import (
	"context"
	"math/rand"
	"time"
)

// Backoff returns an exponential delay for the given attempt (1-based), capped
// at max and reduced by up to 50% jitter.
func Backoff(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := max
	if attempt <= 32 {
		if d := min * time.Duration(1<<uint(attempt-1)); d > 0 && d < max {
			exp = d
		}
	}
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int63n(half))
}

// Do calls fn up to attempts times, sleeping with Backoff between failures.
// It returns the last error, or ctx.Err() if the context ends while waiting.
func Do(ctx context.Context, attempts int, min, max time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		select {
		case <-time.After(Backoff(min, max, i)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
