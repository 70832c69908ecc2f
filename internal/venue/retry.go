package venue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy applies to idempotent reads only. Mutating actions are sent
// once; a lost response is resolved by the caller re-reading venue state.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Backoff <= 0 {
		p.Backoff = 200 * time.Millisecond
	}
	return p
}

func retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	policy = policy.withDefaults()
	backoff := policy.Backoff
	var err error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == policy.Attempts {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			backoff *= 2
		}
	}
	return fmt.Errorf("retry failed after %d attempts: %w", policy.Attempts, err)
}

func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, ErrAssetNotFound)
}
