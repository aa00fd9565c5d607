package handshake

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetriesExhausted is returned when a bounded RetryPolicy gives up.
var ErrRetriesExhausted = errors.New("handshake: retries exhausted")

// RetryPolicy describes how a handshake step is repeated.
//
// MaxAttempts 0 retries until the context ends. Delay 0 polls back to back.
// Otherwise the delay doubles after every attempt up to MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
}

// DefaultRetry retries forever with a short backoff.
var DefaultRetry = RetryPolicy{
	Delay:    50 * time.Millisecond,
	MaxDelay: time.Second,
}

// Do runs op until it reports done, the attempts run out or ctx ends. The
// error of the last failed attempt is wrapped into the result.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) (bool, error)) error {
	delay := p.Delay
	for attempt := 1; ; attempt++ {
		done, err := op(ctx)
		if done && err == nil {
			return nil
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			if err != nil {
				return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
			}
			return fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, attempt)
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay = p.next(delay)
	}
}

func (p RetryPolicy) next(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	d *= 2
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
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
