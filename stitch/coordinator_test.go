package stitch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel-pipeline/config"
	"storyreel-pipeline/types"
)

type fakeEncoder struct {
	mu        sync.Mutex
	submitErr error
	polls     []PollResult
	pollErr   error
	pollCalls int
	cancelled []string
}

func (e *fakeEncoder) Submit(ctx context.Context, job types.StitchJob) (string, error) {
	if e.submitErr != nil {
		return "", e.submitErr
	}
	return "job-1", nil
}

func (e *fakeEncoder) Poll(ctx context.Context, jobID string) (PollResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pollErr != nil {
		return PollResult{}, e.pollErr
	}
	idx := e.pollCalls
	e.pollCalls++
	if idx >= len(e.polls) {
		return e.polls[len(e.polls)-1], nil
	}
	return e.polls[idx], nil
}

func (e *fakeEncoder) Cancel(ctx context.Context, jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = append(e.cancelled, jobID)
	return nil
}

type fakeLocal struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (l *fakeLocal) Stitch(ctx context.Context, dir string, in Inputs) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.fail {
		return "", errors.New("local encode failed")
	}
	return dir + "/final_local.mp4", nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []types.StepEvent
}

func (r *eventRecorder) Event(stage types.RunStage, severity types.Severity, message string) types.StepEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := types.StepEvent{Stage: stage, Severity: severity, Message: message}
	r.events = append(r.events, ev)
	return ev
}

func (r *eventRecorder) Cost(entry types.CostEntry) {}

// newTestCoordinator wires a coordinator with a fake clock: every sleep
// advances virtual time by the poll interval instantly.
func newTestCoordinator(remote RemoteEncoder, local LocalAssembler, fetchErr error) *Coordinator {
	c := NewCoordinator(remote, local, func(ctx context.Context, ref, dest string) error {
		return fetchErr
	}, config.StitchConfig{PollIntervalSec: 5, TimeoutSec: 30})

	now := time.Unix(0, 0)
	var mu sync.Mutex
	c.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
		return ctx.Err()
	}
	return c
}

func TestRunRemoteSuccess(t *testing.T) {
	enc := &fakeEncoder{polls: []PollResult{
		{Status: types.StitchQueued},
		{Status: types.StitchRunning},
		{Status: types.StitchSucceeded, OutputRef: "https://encode.example/out.mp4"},
	}}
	local := &fakeLocal{}
	c := newTestCoordinator(enc, local, nil)

	job, out, err := c.Run(context.Background(), t.TempDir(), testInputs(3), &eventRecorder{})
	require.NoError(t, err)
	assert.Equal(t, types.StitchModeRemote, job.Mode)
	assert.Equal(t, types.StitchSucceeded, job.Status)
	assert.Equal(t, "https://encode.example/out.mp4", job.OutputRef)
	assert.Contains(t, out, "final_remote.mp4")
	assert.Zero(t, local.calls)
}

func TestRunRemoteFailureFallsBackOnce(t *testing.T) {
	enc := &fakeEncoder{polls: []PollResult{
		{Status: types.StitchRunning},
		{Status: types.StitchFailed, Reason: "render crashed"},
	}}
	local := &fakeLocal{}
	c := newTestCoordinator(enc, local, nil)

	job, out, err := c.Run(context.Background(), t.TempDir(), testInputs(3), &eventRecorder{})
	require.NoError(t, err)
	assert.Equal(t, types.StitchModeLocalFallback, job.Mode)
	assert.Equal(t, types.StitchSucceeded, job.Status)
	assert.Contains(t, out, "final_local.mp4")
	assert.Equal(t, 1, local.calls)
}

func TestRunSubmitErrorFallsBack(t *testing.T) {
	enc := &fakeEncoder{submitErr: errors.New("connection refused")}
	local := &fakeLocal{}
	c := newTestCoordinator(enc, local, nil)

	job, _, err := c.Run(context.Background(), t.TempDir(), testInputs(2), &eventRecorder{})
	require.NoError(t, err)
	assert.Equal(t, types.StitchModeLocalFallback, job.Mode)
	assert.Equal(t, 1, local.calls)
	assert.Zero(t, enc.pollCalls)
}

func TestRunPollTimeoutCancelsAndFallsBack(t *testing.T) {
	enc := &fakeEncoder{polls: []PollResult{{Status: types.StitchRunning}}}
	local := &fakeLocal{}
	c := newTestCoordinator(enc, local, nil)

	job, _, err := c.Run(context.Background(), t.TempDir(), testInputs(2), &eventRecorder{})
	require.NoError(t, err)
	assert.Equal(t, types.StitchModeLocalFallback, job.Mode)
	assert.Equal(t, []string{"job-1"}, enc.cancelled)
	assert.Equal(t, 1, local.calls)
}

func TestRunCancelDuringPollingSignalsRemoteJob(t *testing.T) {
	enc := &fakeEncoder{polls: []PollResult{{Status: types.StitchRunning}}}
	local := &fakeLocal{}
	c := newTestCoordinator(enc, local, nil)

	ctx, cancelRun := context.WithCancel(context.Background())
	base := c.sleep
	sleeps := 0
	c.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		if sleeps == 2 {
			cancelRun()
		}
		return base(ctx, d)
	}

	_, _, err := c.Run(ctx, t.TempDir(), testInputs(2), &eventRecorder{})
	assert.ErrorIs(t, err, context.Canceled)
	// The remote job is cancelled, not orphaned, and no fallback runs.
	assert.Equal(t, []string{"job-1"}, enc.cancelled)
	assert.Zero(t, local.calls)
}

func TestRunFallbackFailureIsFatal(t *testing.T) {
	enc := &fakeEncoder{polls: []PollResult{{Status: types.StitchFailed, Reason: "boom"}}}
	local := &fakeLocal{fail: true}
	c := newTestCoordinator(enc, local, nil)

	job, _, err := c.Run(context.Background(), t.TempDir(), testInputs(2), &eventRecorder{})
	var lerr *types.LocalAssemblyFailure
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, types.StitchFailed, job.Status)
	// One attempt only; there is no second fallback.
	assert.Equal(t, 1, local.calls)
}

func TestRunFetchFailureFallsBack(t *testing.T) {
	enc := &fakeEncoder{polls: []PollResult{
		{Status: types.StitchSucceeded, OutputRef: "https://encode.example/out.mp4"},
	}}
	local := &fakeLocal{}
	c := newTestCoordinator(enc, local, errors.New("gateway timeout"))

	job, out, err := c.Run(context.Background(), t.TempDir(), testInputs(2), &eventRecorder{})
	require.NoError(t, err)
	assert.Equal(t, types.StitchModeLocalFallback, job.Mode)
	assert.Contains(t, out, "final_local.mp4")
}

func TestRunPollErrorsTolerateUntilDeadline(t *testing.T) {
	enc := &fakeEncoder{pollErr: errors.New("service unavailable")}
	local := &fakeLocal{}
	c := newTestCoordinator(enc, local, nil)

	job, _, err := c.Run(context.Background(), t.TempDir(), testInputs(2), &eventRecorder{})
	require.NoError(t, err)
	assert.Equal(t, types.StitchModeLocalFallback, job.Mode)
	assert.Equal(t, 1, local.calls)
}

func TestRunWithoutRemoteAssemblesLocally(t *testing.T) {
	local := &fakeLocal{}
	c := newTestCoordinator(nil, local, nil)

	job, _, err := c.Run(context.Background(), t.TempDir(), testInputs(2), &eventRecorder{})
	require.NoError(t, err)
	assert.Equal(t, types.StitchModeLocalFallback, job.Mode)
	assert.Equal(t, 1, local.calls)
}
