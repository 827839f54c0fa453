// Package retry provides the single retry policy shared by the image
// synthesis and clip encode stages: a bounded number of attempts with a
// classifier deciding which errors are worth a second try.
package retry

import (
	"context"
	"errors"
	"time"

	"storyreel-pipeline/types"
)

// Policy retries an operation up to MaxAttempts total attempts.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	// Retryable classifies errors; nil defaults to retrying everything
	// except validation errors.
	Retryable func(error) bool
	// Sleep is injectable for tests; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default is the pipeline-wide "retry once then fail" policy.
func Default() Policy {
	return Policy{MaxAttempts: 2, Backoff: 2 * time.Second}
}

// Do runs op, retrying per the policy. The error from the last attempt is
// returned unwrapped so callers can classify it.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = defaultRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt == attempts || !retryable(err) {
			return err
		}
		if p.Backoff > 0 {
			if serr := sleep(ctx, p.Backoff); serr != nil {
				return err
			}
		}
	}
	return err
}

func defaultRetryable(err error) bool {
	var verr *types.ValidationError
	return !errors.As(err, &verr)
}

func timerSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
