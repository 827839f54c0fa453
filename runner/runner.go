// Package runner is the pipeline controller: it accepts run requests,
// enforces the one-active-run-per-owner/session rule, sequences the
// stages, and owns every run's state, step log, and final report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"storyreel-pipeline/clips"
	"storyreel-pipeline/narration"
	"storyreel-pipeline/report"
	"storyreel-pipeline/segments"
	"storyreel-pipeline/status"
	"storyreel-pipeline/stitch"
	"storyreel-pipeline/store"
	"storyreel-pipeline/synth"
	"storyreel-pipeline/types"
)

// ErrRunNotFound is returned for lookups of unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// Stage boundaries. The controller depends on behavior, not on the
// concrete stage types, so tests drive a full run with fakes.
type (
	SynthStage interface {
		Run(ctx context.Context, dir string, segs []types.Segment, rec report.Recorder) ([]synth.Result, error)
	}
	ClipStage interface {
		AssembleAll(ctx context.Context, dir string, segs []types.Segment, imagePaths []string, rec report.Recorder) ([]clips.AssembledClip, error)
	}
	NarrationStage interface {
		Build(ctx context.Context, dir string, segs []types.Segment, narrationPaths []string, rec report.Recorder) (narration.Track, error)
	}
	StitchStage interface {
		Run(ctx context.Context, dir string, in stitch.Inputs, rec report.Recorder) (types.StitchJob, string, error)
	}
	EnhanceStage interface {
		Run(ctx context.Context, dir, inputPath string, rec report.Recorder) string
	}
)

// Options wires a Controller.
type Options struct {
	Source    segments.Source
	Store     store.Store
	Synth     SynthStage
	Clips     ClipStage
	Narration NarrationStage
	Stitch    StitchStage
	Enhance   EnhanceStage
	// Crossfade is the transition window between adjacent clips, carried
	// into every stitch job.
	Crossfade float64
	Workdir   string
	Log       *slog.Logger
	// Publisher is optional; when set, every run's events are forwarded
	// to redis.
	Publisher *status.Publisher
}

// Controller accepts, executes, and tracks pipeline runs.
type Controller struct {
	opts Options

	registry *registry
	mu       sync.Mutex
	runs     map[string]*runHandle
}

// runHandle is the controller's private per-run state.
type runHandle struct {
	mu     sync.Mutex
	run    types.PipelineRun
	job    types.StitchJob
	report string

	agg    *report.Aggregator
	bus    *status.Bus
	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Options) *Controller {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Workdir == "" {
		opts.Workdir = "output"
	}
	return &Controller{
		opts:     opts,
		registry: newRegistry(),
		runs:     make(map[string]*runHandle),
	}
}

// Start validates the session's segments and, if the owner/session slot
// is free, launches the run asynchronously. Validation and admission are
// synchronous so the caller gets an immediate accept or reject.
func (c *Controller) Start(ctx context.Context, ownerID, sessionID string) (types.PipelineRun, error) {
	segs, err := c.opts.Source.Fetch(ctx, ownerID, sessionID)
	if err != nil {
		return types.PipelineRun{}, err
	}
	if err := segments.Validate(segs); err != nil {
		return types.PipelineRun{}, err
	}

	runID := uuid.NewString()
	release, err := c.registry.acquire(ownerID, sessionID, runID)
	if err != nil {
		return types.PipelineRun{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &runHandle{
		run: types.PipelineRun{
			RunID:     runID,
			OwnerID:   ownerID,
			SessionID: sessionID,
			CreatedAt: time.Now().UTC(),
			Stage:     types.StagePending,
		},
		agg:    report.NewAggregator(runID, c.opts.Log),
		bus:    status.NewBus(0),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.runs[runID] = h
	c.mu.Unlock()

	go c.execute(runCtx, h, segs, release)
	return h.snapshot(), nil
}

func (c *Controller) execute(ctx context.Context, h *runHandle, segs []types.Segment, release func()) {
	defer close(h.done)
	defer release()
	defer h.bus.Close()

	rec := &runRecorder{agg: h.agg, bus: h.bus}
	if c.opts.Publisher != nil {
		events, cancelSub := h.bus.Subscribe(0)
		defer cancelSub()
		go c.opts.Publisher.Forward(ctx, h.run.RunID, events)
	}

	dir := filepath.Join(c.opts.Workdir, h.run.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.finish(h, rec, fmt.Errorf("create run workdir: %w", err))
		return
	}

	c.setStage(h, rec, types.StageValidating)
	rec.Event(types.StageValidating, types.SeveritySuccess,
		fmt.Sprintf("run accepted with %d segments (%.1fs total)", len(segs), segments.TotalDuration(segs)))

	c.setStage(h, rec, types.StageSynthesizing)
	images, err := c.opts.Synth.Run(ctx, dir, segs, rec)
	if err != nil {
		c.finish(h, rec, err)
		return
	}
	imagePaths := make([]string, len(images))
	for i, img := range images {
		imagePaths[i] = img.Path
	}

	// Clip assembly and the narration track are independent until the
	// stitch, so they run in parallel.
	c.setStage(h, rec, types.StageAssembling)
	var (
		assembled []clips.AssembledClip
		track     narration.Track
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var aerr error
		assembled, aerr = c.opts.Clips.AssembleAll(gctx, dir, segs, imagePaths, rec)
		return aerr
	})
	g.Go(func() error {
		narrationPaths, ferr := c.fetchNarration(gctx, dir, segs)
		if ferr != nil {
			return ferr
		}
		// The run's stage label stays on clip assembly for the whole
		// parallel phase; the narration work announces itself through
		// events only.
		rec.Event(types.StageNarration, types.SeverityInfo,
			fmt.Sprintf("stage %s started", types.StageNarration))
		var berr error
		track, berr = c.opts.Narration.Build(gctx, dir, segs, narrationPaths, rec)
		return berr
	})
	if err := g.Wait(); err != nil {
		c.finish(h, rec, err)
		return
	}

	in, err := c.uploadStitchInputs(ctx, h.run.RunID, assembled, track)
	if err != nil {
		c.finish(h, rec, err)
		return
	}

	c.setStage(h, rec, types.StageStitching)
	job, stitchedPath, err := c.opts.Stitch.Run(ctx, dir, in, rec)
	h.mu.Lock()
	h.job = job
	h.run.FallbackUsed = job.Mode == types.StitchModeLocalFallback
	h.mu.Unlock()
	if err != nil {
		c.finish(h, rec, err)
		return
	}

	c.setStage(h, rec, types.StageEnhancing)
	finalPath := c.opts.Enhance.Run(ctx, dir, stitchedPath, rec)

	outputRef, err := c.opts.Store.PutFile(ctx,
		fmt.Sprintf("runs/%s/final.mp4", h.run.RunID), finalPath, "video/mp4")
	if err != nil {
		c.finish(h, rec, fmt.Errorf("store final video: %w", err))
		return
	}
	h.mu.Lock()
	h.run.OutputRef = outputRef
	h.mu.Unlock()

	c.finish(h, rec, nil)
}

// fetchNarration resolves every segment's narration reference into the
// run workdir, in segment order.
func (c *Controller) fetchNarration(ctx context.Context, dir string, segs []types.Segment) ([]string, error) {
	paths := make([]string, len(segs))
	for i, seg := range segs {
		dest := filepath.Join(dir, fmt.Sprintf("narration_%03d%s", seg.Order, narrationExt(seg.NarrationRef)))
		if err := c.opts.Store.Fetch(ctx, seg.NarrationRef, dest); err != nil {
			return nil, fmt.Errorf("fetch narration for segment %s: %w", seg.ID, err)
		}
		paths[i] = dest
	}
	return paths, nil
}

func narrationExt(ref string) string {
	if ext := filepath.Ext(ref); ext != "" {
		return ext
	}
	return ".mp3"
}

// uploadStitchInputs persists the clips and audio track so the remote
// encoder can reach them, keeping the local paths for the fallback.
func (c *Controller) uploadStitchInputs(ctx context.Context, runID string, assembled []clips.AssembledClip, track narration.Track) (stitch.Inputs, error) {
	in := stitch.Inputs{
		ClipPaths:     make([]string, len(assembled)),
		ClipRefs:      make([]string, len(assembled)),
		ClipDurations: make([]float64, len(assembled)),
		AudioPath:     track.Path,
		CrossfadeSec:  c.opts.Crossfade,
	}
	for i, a := range assembled {
		in.ClipPaths[i] = a.Path
		in.ClipDurations[i] = a.Clip.DurationSec
		ref, err := c.opts.Store.PutFile(ctx,
			fmt.Sprintf("runs/%s/clips/clip_%03d.mp4", runID, i), a.Path, "video/mp4")
		if err != nil {
			return stitch.Inputs{}, fmt.Errorf("store clip %d: %w", i, err)
		}
		in.ClipRefs[i] = ref
	}

	audioRef, err := c.opts.Store.PutFile(ctx,
		fmt.Sprintf("runs/%s/narration.m4a", runID), track.Path, "audio/mp4")
	if err != nil {
		return stitch.Inputs{}, fmt.Errorf("store narration track: %w", err)
	}
	in.AudioRef = audioRef
	return in, nil
}

// finish moves the run to its terminal stage, renders the report, and
// persists the step log. Report persistence is best-effort.
func (c *Controller) finish(h *runHandle, rec *runRecorder, runErr error) {
	rec.Event(types.StageReporting, types.SeverityInfo, "rendering run report")

	h.mu.Lock()
	switch {
	case runErr == nil:
		h.run.Stage = types.StageSucceeded
	case errors.Is(runErr, context.Canceled):
		h.run.Stage = types.StageCancelled
		h.run.Error = "run cancelled"
		// Cancelled runs leave no partial output behind.
		defer os.RemoveAll(filepath.Join(c.opts.Workdir, h.run.RunID))
	default:
		h.run.Stage = types.StageFailed
		h.run.Error = runErr.Error()
	}
	run := h.run
	job := h.job
	h.mu.Unlock()

	c.setStageEvent(rec, run.Stage, runErr)

	h.mu.Lock()
	h.report = h.agg.Render(run, job)
	h.mu.Unlock()

	// The run context may already be cancelled; the report still gets a
	// chance to land.
	storeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if stepLog, err := h.agg.StepLog(); err == nil {
		if _, err := c.opts.Store.PutBytes(storeCtx,
			fmt.Sprintf("runs/%s/step_log.json", run.RunID), stepLog, "application/json"); err != nil {
			c.opts.Log.Warn("persist step log failed", "run_id", run.RunID, "error", err)
		}
	}
	if _, err := c.opts.Store.PutBytes(storeCtx,
		fmt.Sprintf("runs/%s/report.txt", run.RunID), []byte(h.Report()), "text/plain"); err != nil {
		c.opts.Log.Warn("persist report failed", "run_id", run.RunID, "error", err)
	}
}

func (c *Controller) setStage(h *runHandle, rec *runRecorder, stage types.RunStage) {
	h.mu.Lock()
	h.run.Stage = stage
	h.mu.Unlock()
	rec.Event(stage, types.SeverityInfo, fmt.Sprintf("stage %s started", stage))
}

func (c *Controller) setStageEvent(rec *runRecorder, stage types.RunStage, runErr error) {
	switch stage {
	case types.StageSucceeded:
		rec.Event(stage, types.SeveritySuccess, "run completed")
	case types.StageCancelled:
		rec.Event(stage, types.SeverityWarning, "run cancelled")
	default:
		rec.Event(stage, types.SeverityError, fmt.Sprintf("run failed: %v", runErr))
	}
}

// Get returns a snapshot of the run.
func (c *Controller) Get(runID string) (types.PipelineRun, error) {
	h, err := c.handle(runID)
	if err != nil {
		return types.PipelineRun{}, err
	}
	return h.snapshot(), nil
}

// Job returns the run's stitch job record.
func (c *Controller) Job(runID string) (types.StitchJob, error) {
	h, err := c.handle(runID)
	if err != nil {
		return types.StitchJob{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job, nil
}

// Events returns the run's step events with sequence greater than since.
func (c *Controller) Events(runID string, since int64) ([]types.StepEvent, error) {
	h, err := c.handle(runID)
	if err != nil {
		return nil, err
	}
	return h.bus.Since(since), nil
}

// Report returns the rendered run report; empty until the run is
// terminal.
func (c *Controller) Report(runID string) (string, error) {
	h, err := c.handle(runID)
	if err != nil {
		return "", err
	}
	return h.Report(), nil
}

// Cancel requests cancellation of a running run. Terminal runs are
// unaffected.
func (c *Controller) Cancel(runID string) error {
	h, err := c.handle(runID)
	if err != nil {
		return err
	}
	h.cancel()
	return nil
}

// Wait blocks until the run reaches a terminal stage and returns its
// final snapshot.
func (c *Controller) Wait(ctx context.Context, runID string) (types.PipelineRun, error) {
	h, err := c.handle(runID)
	if err != nil {
		return types.PipelineRun{}, err
	}
	select {
	case <-ctx.Done():
		return types.PipelineRun{}, ctx.Err()
	case <-h.done:
		return h.snapshot(), nil
	}
}

func (c *Controller) handle(runID string) (*runHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return h, nil
}

func (h *runHandle) snapshot() types.PipelineRun {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run
}

func (h *runHandle) Report() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.report
}

// runRecorder appends to the run ledger and mirrors every event onto the
// run's live bus.
type runRecorder struct {
	agg *report.Aggregator
	bus *status.Bus
}

func (r *runRecorder) Event(stage types.RunStage, severity types.Severity, message string) types.StepEvent {
	ev := r.agg.Event(stage, severity, message)
	r.bus.Publish(ev)
	return ev
}

func (r *runRecorder) Cost(entry types.CostEntry) {
	r.agg.Cost(entry)
}
