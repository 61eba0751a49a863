package retry

import (
	"context"
	"time"

	"senseflow/pkg/logger"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes a bounded retry schedule
type Policy struct {
	InitialInterval time.Duration
	Multiplier      float64 // 1 for a constant delay
	MaxTries        uint
}

// WritePolicy is applied at store and queue write boundaries: 0.5s, 1s, 2s, 4s between 5 attempts
var WritePolicy = Policy{
	InitialInterval: 500 * time.Millisecond,
	Multiplier:      2,
	MaxTries:        5,
}

func (p Policy) backOff() backoff.BackOff {
	if p.Multiplier <= 1 {
		return backoff.NewConstantBackOff(p.InitialInterval)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = p.InitialInterval * time.Duration(1<<min(p.MaxTries, 16))
	return b
}

// Do runs op until it succeeds, returns a permanent error, ctx ends or MaxTries is reached.
// The last error is returned when attempts are exhausted.
func Do[T any](ctx context.Context, p Policy, name string, op func() (T, error)) (T, error) {
	tries := p.MaxTries
	if tries == 0 {
		tries = 1
	}
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		return op()
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(tries),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WarnCtx(ctx, "%s failed (attempt %d/%d), retrying in %v: %v", name, attempt, tries, next, err)
		}),
	)
}

// Write retries a store or queue write with WritePolicy
func Write[T any](ctx context.Context, name string, op func() (T, error)) (T, error) {
	return Do(ctx, WritePolicy, name, op)
}

// Poll retries op with a fixed delay and a hard attempt ceiling
func Poll[T any](ctx context.Context, attempts int, delay time.Duration, name string, op func() (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	return Do(ctx, Policy{InitialInterval: delay, Multiplier: 1, MaxTries: uint(attempts)}, name, op)
}

// Permanent stops retrying and returns err unchanged
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
