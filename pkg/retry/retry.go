// Package retry runs source API calls with a bounded number of attempts and linear backoff that
// distinguishes rate limiting from other failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Policy bounds a retried call.
type Policy struct {
	MaxAttempts    int
	RateLimitDelay time.Duration
	ErrorDelay     time.Duration
	// Sleep waits between attempts. Nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy is 3 attempts, waiting 2s×attempt after a 429 and 500ms×attempt otherwise.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, RateLimitDelay: 2 * time.Second, ErrorDelay: 500 * time.Millisecond}
}

// StatusError is returned for a non-success HTTP response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// BackoffFor is the wait after failed attempt number attempt (1-based).
func (p Policy) BackoffFor(err error, attempt int) time.Duration {
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
		return p.RateLimitDelay * time.Duration(attempt)
	}
	return p.ErrorDelay * time.Duration(attempt)
}

// Do calls fn until it succeeds, returns a permanent error, or the attempts run out.
// The last error is returned on exhaustion.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) || ctx.Err() != nil {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.BackoffFor(lastErr, attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
