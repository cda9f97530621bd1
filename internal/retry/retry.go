// Package retry wraps enhancement attempts with classified retry and
// exponential backoff. Transient and timeout failures back off and try
// again, storage failures get exactly one more chance, and validation or
// fatal failures stop immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"clarion/internal/config"
	"clarion/internal/services"
)

// Policy bounds how often and how long the controller retries.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// FromConfig derives the retry policy from configuration.
func FromConfig(cfg *config.Config) Policy {
	return Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay(),
		MaxDelay:    cfg.RetryMaxDelay(),
	}
}

// Attempt describes one failed try, reported before the controller sleeps.
type Attempt struct {
	Number int
	Err    error
	Delay  time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(context.Context, time.Duration) error) Option {
	return func(c *Controller) {
		if sleeper != nil {
			c.sleeper = sleeper
		}
	}
}

// WithJitter overrides the jitter applied to backoff delays.
func WithJitter(jitter func(time.Duration) time.Duration) Option {
	return func(c *Controller) {
		if jitter != nil {
			c.jitter = jitter
		}
	}
}

// Controller executes operations under a retry policy.
type Controller struct {
	policy  Policy
	sleeper func(context.Context, time.Duration) error
	jitter  func(time.Duration) time.Duration
}

// New builds a Controller for the given policy.
func New(policy Policy, opts ...Option) *Controller {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	c := &Controller{
		policy:  policy,
		sleeper: sleepContext,
		jitter:  fullJitter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do runs fn until it succeeds, exhausts the attempt budget, or fails in a
// way that retrying cannot fix. onRetry, when non-nil, observes each failed
// attempt that will be retried.
func (c *Controller) Do(ctx context.Context, fn func(context.Context) error, onRetry func(Attempt)) error {
	var lastErr error
	storageFailures := 0

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !services.Retryable(err) {
			return err
		}
		if errors.Is(err, services.ErrStorage) {
			storageFailures++
			if storageFailures > 1 {
				return fmt.Errorf("storage failed after retry: %w", err)
			}
		}
		if attempt >= c.policy.MaxAttempts {
			break
		}

		delay := c.backoffDelay(attempt)
		if onRetry != nil {
			onRetry(Attempt{Number: attempt, Err: err, Delay: delay})
		}
		if err := c.sleeper(ctx, delay); err != nil {
			return lastErr
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", c.policy.MaxAttempts, lastErr)
}

// backoffDelay doubles the base delay per prior attempt, caps it, and
// applies jitter so competing retries spread out.
func (c *Controller) backoffDelay(attempt int) time.Duration {
	base := c.policy.BaseDelay
	if base <= 0 {
		return 0
	}
	maxDelay := c.policy.MaxDelay

	delay := base
	for i := 1; i < attempt; i++ {
		if maxDelay > 0 && delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return c.jitter(delay)
}

func fullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(delay) + 1))
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
