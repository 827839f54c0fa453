package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel-pipeline/types"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestDoSucceedsFirstAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 2, Sleep: noSleep}
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesOnceThenFails(t *testing.T) {
	p := Policy{MaxAttempts: 2, Backoff: time.Second, Sleep: noSleep}
	boom := errors.New("boom")
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestDoSecondAttemptSucceeds(t *testing.T) {
	p := Policy{MaxAttempts: 2, Sleep: noSleep}
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoNeverRetriesValidationErrors(t *testing.T) {
	p := Policy{MaxAttempts: 3, Sleep: noSleep}
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &types.ValidationError{Field: "segments", Reason: "empty"}
	})
	var verr *types.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, calls)
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{MaxAttempts: 2, Sleep: noSleep}
	err := p.Do(ctx, func(ctx context.Context) error {
		t.Fatal("op must not run after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
