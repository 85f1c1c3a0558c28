// Package resilience implements the recoverable-error retry and circuit
// breaker patterns used by adapters and pollers. Unlike a fixed policy, the
// retry budget here is caller-supplied (spec.md §7: "retried ... up to a
// caller-supplied budget") and only engages for errs.Kind values that are
// Recoverable.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/r3e-network/cyberrange/internal/errs"
)

// Budget configures exponential backoff with jitter for recoverable errors.
type Budget struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0-1, adds randomness to each delay
}

// DefaultBudget is a sensible default for adapter calls.
func DefaultBudget() Budget {
	return Budget{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Retry executes fn up to budget.MaxAttempts times. It stops immediately,
// without consuming the budget, when fn returns an unrecoverable *errs.Error
// (spec.md §7: unrecoverable errors abort the enclosing task immediately).
// Plain (non-taxonomy) errors are treated as unrecoverable.
func Retry(ctx context.Context, budget Budget, fn func(ctx context.Context) error) error {
	if budget.MaxAttempts <= 0 {
		budget.MaxAttempts = 1
	}
	delay := budget.InitialDelay

	var lastErr error
	for attempt := 0; attempt < budget.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !errs.KindOf(err).Recoverable() {
			return err
		}
		if attempt == budget.MaxAttempts-1 {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(addJitter(delay, budget.Jitter)):
		}
		delay = nextDelay(delay, budget)
	}
	return lastErr
}

func nextDelay(current time.Duration, budget Budget) time.Duration {
	multiplier := budget.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	next := time.Duration(float64(current) * multiplier)
	if budget.MaxDelay > 0 && next > budget.MaxDelay {
		return budget.MaxDelay
	}
	return next
}

func addJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || d <= 0 {
		return d
	}
	delta := float64(d) * jitter
	return d + time.Duration(rand.Float64()*delta*2-delta)
}
