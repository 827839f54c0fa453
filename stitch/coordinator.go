// Package stitch combines a run's normalized clips and narration track
// into the final video. The remote encoding service is the primary path;
// when it fails or times out the coordinator falls back to a single local
// assembly, and a failed fallback is fatal.
package stitch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"storyreel-pipeline/config"
	"storyreel-pipeline/report"
	"storyreel-pipeline/types"
)

// FetchFunc resolves a remote artifact reference into a local file.
type FetchFunc func(ctx context.Context, ref, dest string) error

// Coordinator drives the submit/poll/fallback stitch state machine.
// Clock and sleep are injectable so poll timing is testable.
type Coordinator struct {
	remote       RemoteEncoder
	local        LocalAssembler
	fetch        FetchFunc
	pollInterval time.Duration
	timeout      time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewCoordinator(remote RemoteEncoder, local LocalAssembler, fetch FetchFunc, cfg config.StitchConfig) *Coordinator {
	return &Coordinator{
		remote:       remote,
		local:        local,
		fetch:        fetch,
		pollInterval: time.Duration(cfg.PollIntervalSec * float64(time.Second)),
		timeout:      time.Duration(cfg.TimeoutSec * float64(time.Second)),
		now:          time.Now,
		sleep:        timerSleep,
	}
}

// Run stitches the clips into dir and returns the job record plus the
// local path of the final video. Exactly one fallback is permitted per
// run: remote submit error, remote failure, and poll timeout all route to
// it, and a fallback failure surfaces as a fatal local assembly error.
func (c *Coordinator) Run(ctx context.Context, dir string, in Inputs, rec report.Recorder) (types.StitchJob, string, error) {
	job := types.StitchJob{
		Mode:         types.StitchModeRemote,
		ClipRefs:     in.ClipRefs,
		AudioRef:     in.AudioRef,
		CrossfadeSec: in.CrossfadeSec,
		Status:       types.StitchQueued,
	}

	if c.remote == nil {
		rec.Event(types.StageStitching, types.SeverityInfo, "no encoding service configured, assembling locally")
		return c.fallback(ctx, dir, in, rec, job)
	}

	jobID, err := c.remote.Submit(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return job, "", ctx.Err()
		}
		rec.Event(types.StageStitching, types.SeverityWarning,
			fmt.Sprintf("remote stitch submit failed: %v", err))
		return c.fallback(ctx, dir, in, rec, job)
	}
	job.JobID = jobID
	rec.Event(types.StageStitching, types.SeverityInfo,
		fmt.Sprintf("remote stitch job %s submitted", jobID))

	res, err := c.poll(ctx, &job)
	if err != nil {
		// The run is ending early; the remote job must not be orphaned.
		c.cancelRemote(jobID)
		return job, "", err
	}

	switch res.Status {
	case types.StitchSucceeded:
		job.Status = types.StitchSucceeded
		job.OutputRef = res.OutputRef
		outPath := filepath.Join(dir, "final_remote.mp4")
		if err := c.fetch(ctx, res.OutputRef, outPath); err != nil {
			if ctx.Err() != nil {
				return job, "", ctx.Err()
			}
			rec.Event(types.StageStitching, types.SeverityWarning,
				fmt.Sprintf("remote stitch output fetch failed: %v", err))
			return c.fallback(ctx, dir, in, rec, job)
		}
		rec.Event(types.StageStitching, types.SeveritySuccess,
			fmt.Sprintf("remote stitch job %s completed", jobID))
		return job, outPath, nil

	case types.StitchTimedOut:
		job.Status = types.StitchTimedOut
		// Best-effort: the service may keep rendering, but the run moves on.
		c.cancelRemote(jobID)
		rec.Event(types.StageStitching, types.SeverityWarning,
			fmt.Sprintf("remote stitch job %s timed out after %s", jobID, c.timeout))
		return c.fallback(ctx, dir, in, rec, job)

	default:
		job.Status = types.StitchFailed
		failure := &types.RemoteJobFailure{JobID: jobID, Status: res.Status, Reason: res.Reason}
		rec.Event(types.StageStitching, types.SeverityWarning, failure.Error())
		return c.fallback(ctx, dir, in, rec, job)
	}
}

// poll observes the remote job until it is terminal or the deadline
// passes. Poll errors are tolerated until the deadline; only context
// cancellation aborts early.
func (c *Coordinator) poll(ctx context.Context, job *types.StitchJob) (PollResult, error) {
	deadline := c.now().Add(c.timeout)
	for {
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return PollResult{}, err
		}

		res, err := c.remote.Poll(ctx, job.JobID)
		if err != nil {
			if ctx.Err() != nil {
				return PollResult{}, ctx.Err()
			}
		} else {
			if res.Status == types.StitchRunning && job.Status != types.StitchRunning {
				job.Status = types.StitchRunning
			}
			if res.Status.Terminal() {
				return res, nil
			}
		}

		if !c.now().Before(deadline) {
			return PollResult{Status: types.StitchTimedOut}, nil
		}
	}
}

// fallback runs the single permitted local assembly.
func (c *Coordinator) fallback(ctx context.Context, dir string, in Inputs, rec report.Recorder, job types.StitchJob) (types.StitchJob, string, error) {
	job.Mode = types.StitchModeLocalFallback
	rec.Event(types.StageStitching, types.SeverityInfo, "assembling final video locally")

	outPath, err := c.local.Stitch(ctx, dir, in)
	if err != nil {
		job.Status = types.StitchFailed
		return job, "", &types.LocalAssemblyFailure{Err: err}
	}

	job.Status = types.StitchSucceeded
	job.OutputRef = outPath
	rec.Event(types.StageStitching, types.SeveritySuccess, "local assembly completed")
	return job, outPath, nil
}

// cancelRemote signals the remote job on its own short deadline so it
// works even when the run context is already cancelled.
func (c *Coordinator) cancelRemote(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = c.remote.Cancel(ctx, jobID)
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
