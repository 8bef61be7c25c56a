package reliability

import (
	"context"
	"fmt"
	"time"
)

// RetryExhaustedError wraps the last error after all attempts failed.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

// Error implements the error interface
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Err)
}

// Unwrap exposes the last underlying error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// Retrier executes operations with bounded retries and optional exponential
// backoff. It retries every error; distinguishing retryable from terminal
// errors is left to callers that need it.
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Exponential bool
}

// DefaultRetrier returns the retry policy used for cloud-API calls. The
// worst-case total delay (MaxAttempts * MaxDelay) must stay below any
// caller-level deadline such as a shift step's settle window.
func DefaultRetrier() Retrier {
	return Retrier{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Exponential: true,
	}
}

// Do runs op up to MaxAttempts times, sleeping between attempts. The sleep
// is cancellable: a cancelled context aborts immediately with ctx.Err().
func (r Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, r.delay(attempt)); err != nil {
				return err
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
	}

	return &RetryExhaustedError{Attempts: attempts, Err: lastErr}
}

// delay computes the wait before the given attempt (attempt >= 2).
func (r Retrier) delay(attempt int) time.Duration {
	if !r.Exponential {
		return r.BaseDelay
	}

	d := r.BaseDelay
	for i := 2; i < attempt; i++ {
		d *= 2
		if r.MaxDelay > 0 && d >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	if r.MaxDelay > 0 && d > r.MaxDelay {
		return r.MaxDelay
	}
	return d
}

// Sleep sleeps for d or until ctx is cancelled. Shift and resolution
// operations use this at every settle/poll boundary so they stay
// cancellable.
func Sleep(ctx context.Context, d time.Duration) error {
	return sleepCtx(ctx, d)
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
