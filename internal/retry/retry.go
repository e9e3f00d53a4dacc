// Package retry implements a reusable retry policy with exponential
// backoff, parameterized over any request function.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes how to retry a failing call. The delay doubles after
// every failed attempt: BaseDelay, 2*BaseDelay, 4*BaseDelay, ...
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration

	// Retryable reports whether an error is worth retrying.
	// A nil predicate retries every error.
	Retryable func(error) bool

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Default is the policy used for one-shot AI analysis calls:
// 3 attempts with 1s, 2s backoff between them, retrying 429/5xx.
func Default(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Retryable:   retryable,
	}
}

// Do runs fn under the policy. It returns fn's first success, the first
// non-retryable error, or the last error once attempts are exhausted.
// Context cancellation aborts the backoff wait.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	delay := p.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt >= p.MaxAttempts {
			return fmt.Errorf("after %d attempts: %w", attempt, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
		delay *= 2
	}
}

// RetryableStatus reports whether an HTTP status code indicates a
// transient failure (429 or any 5xx).
func RetryableStatus(code int) bool {
	return code == 429 || code >= 500
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
