package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a bounded, fixed-backoff retry schedule. It is immutable after construction.
type Policy struct {
	Attempts int           // total attempts including the first
	Backoff  time.Duration // delay between attempts
}

// NewPolicy builds a policy; non-positive values fall back to 3 attempts and 2s.
func NewPolicy(attempts int, backoff time.Duration) Policy {
	p := Policy{Attempts: 3, Backoff: 2 * time.Second}
	if attempts > 0 {
		p.Attempts = attempts
	}
	if backoff > 0 {
		p.Backoff = backoff
	}
	return p
}

func (p Policy) schedule(ctx context.Context) backoff.BackOffContext {
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Backoff), uint64(p.Attempts-1)),
		ctx,
	)
}

// Do calls fn until it succeeds, the attempts are exhausted, or ctx is done.
// onRetry, when non-nil, is invoked before each wait with the failed attempt number.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	attempt := 0
	op := func() error {
		attempt++
		return fn(ctx)
	}
	notify := func(err error, _ time.Duration) {
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}

	err := backoff.RetryNotify(op, p.schedule(ctx), notify)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
}
