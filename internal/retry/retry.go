// Package retry wraps an operation with exponential backoff bounded by both
// an attempt count and a total time budget.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"pdf-translator/internal/logger"
)

// ErrBudgetExhausted is wrapped into the error returned when every attempt failed.
var ErrBudgetExhausted = errors.New("retry: attempts exhausted")

// Policy describes how an operation is retried.
type Policy struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // delay before the second attempt
	Factor      float64       // multiplier per attempt
	MaxDelay    time.Duration // cap for a single delay, 0 = none
	MaxElapsed  time.Duration // total budget from the first attempt, 0 = none
	Jitter      bool          // full jitter: sleep uniformly in [0, delay]

	// Retryable reports whether err is worth another attempt. Nil retries
	// everything except Permanent errors and context cancellation.
	Retryable func(error) bool
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns 5 attempts within 300s, starting at 1s and doubling.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Factor:      2,
		MaxDelay:    30 * time.Second,
		MaxElapsed:  300 * time.Second,
		Jitter:      true,
	}
}

// Delay returns the un-jittered backoff before attempt n+1, after n failures.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.BaseDelay) * math.Pow(factor, float64(n-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable. Do returns the inner error unchanged.
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

func (p Policy) retryable(err error) bool {
	if IsPermanent(err) || errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy
// runs out of attempts or time. A cancelled ctx stops the loop immediately.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	now := p.Now
	if now == nil {
		now = time.Now
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	start := now()
	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !p.retryable(err) {
			var pe *permanentError
			if errors.As(err, &pe) {
				return zero, pe.err
			}
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt >= maxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if p.Jitter && delay > 0 {
			delay = time.Duration(rand.Int64N(int64(delay) + 1))
		}
		if p.MaxElapsed > 0 {
			remaining := p.MaxElapsed - now().Sub(start)
			if remaining <= 0 {
				break
			}
			if delay > remaining {
				delay = remaining
			}
		}

		logger.Debug("retrying after backoff",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err))
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w after %d attempts in %s: %w",
		ErrBudgetExhausted, attempt, now().Sub(start).Round(time.Millisecond), lastErr)
}

// Wrap returns fn decorated with the policy.
func Wrap[T any](p Policy, fn func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return Do(ctx, p, fn)
	}
}

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
