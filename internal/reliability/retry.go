// Package reliability provides retry helpers for calls to external
// vendor APIs.
package reliability

import (
	"context"
	"fmt"
	"time"
)

// RetryableStatus reports whether an HTTP status from a vendor API is
// worth retrying. Rate limits and transient server errors are; client
// errors are not.
func RetryableStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// Backoff returns the delay before retry number attempt (1-based),
// doubling from base and capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Do runs fn up to attempts times. fn reports whether its error is
// retryable; a permanent error or a nil error stops the loop
// immediately. Between attempts Do sleeps with exponential backoff,
// aborting early if ctx ends. The returned error is the last one fn
// produced, wrapped with the context error when the wait was cut
// short.
func Do(ctx context.Context, attempts int, base, max time.Duration, fn func() (retryable bool, err error)) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || attempt == attempts {
			return lastErr
		}
		timer := time.NewTimer(Backoff(attempt, base, max))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%v: %w", lastErr, ctx.Err())
		case <-timer.C:
		}
	}
	return lastErr
}
