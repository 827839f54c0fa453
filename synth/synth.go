// Package synth produces exactly one synthesized image per segment,
// preserving segment order. Requests go out in fixed-size batches to
// respect upstream rate limits; each request gets one retry and a second
// failure is fatal for the run, since a missing segment would break
// segment-order invariants downstream.
package synth

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"storyreel-pipeline/prompt"
	"storyreel-pipeline/report"
	"storyreel-pipeline/retry"
	"storyreel-pipeline/types"
)

// ModelCosts is the fixed per-image cost table in USD.
var ModelCosts = map[string]float64{
	"flux-pro":     0.05,
	"flux-dev":     0.025,
	"flux-schnell": 0.003,
	"sdxl":         0.01,
}

// Request describes one image to synthesize.
type Request struct {
	SegmentID string
	Prompt    string
	Width     int
	Height    int
	Seed      int
}

// Result references one synthesized image: the upstream artifact and its
// local copy for clip assembly.
type Result struct {
	SegmentID string
	Ref       string
	Path      string
	Model     string
	Cost      float64
}

// ImageService is the external image-generation boundary: prompt and
// target size in, image reference out, with a typed failure
// distinguishable from success.
type ImageService interface {
	Generate(ctx context.Context, dir string, req Request) (Result, error)
}

// Stage drives batched synthesis over an ImageService.
type Stage struct {
	svc        ImageService
	batchWidth int
	width      int
	height     int
	policy     retry.Policy
	currency   string
}

// NewStage wires the synthesis stage. batchWidth bounds in-flight
// requests per batch.
func NewStage(svc ImageService, batchWidth, width, height int, policy retry.Policy, currency string) *Stage {
	if batchWidth <= 0 {
		batchWidth = 2
	}
	return &Stage{
		svc:        svc,
		batchWidth: batchWidth,
		width:      width,
		height:     height,
		policy:     policy,
		currency:   currency,
	}
}

// Run synthesizes one image per segment into dir, in order. Emits a step
// event per segment start/completion and a cost entry per success.
func (s *Stage) Run(ctx context.Context, dir string, segs []types.Segment, rec report.Recorder) ([]Result, error) {
	results := make([]Result, len(segs))

	for start := 0; start < len(segs); start += s.batchWidth {
		end := start + s.batchWidth
		if end > len(segs) {
			end = len(segs)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			seg := segs[i]
			rec.Event(types.StageSynthesizing, types.SeverityInfo,
				fmt.Sprintf("segment %s: image synthesis started", seg.ID))

			g.Go(func() error {
				req := Request{
					SegmentID: seg.ID,
					Prompt:    prompt.Build(seg.VisualGuidance, seg.Label),
					Width:     s.width,
					Height:    s.height,
					// Deterministic per-segment seed for reproducible reruns.
					Seed: seg.Order*42 + 7,
				}

				var res Result
				err := s.policy.Do(gctx, func(ctx context.Context) error {
					var genErr error
					res, genErr = s.svc.Generate(ctx, dir, req)
					return genErr
				})
				if err != nil {
					return &types.TransientUpstreamError{
						Op:  fmt.Sprintf("image synthesis for segment %s", seg.ID),
						Err: err,
					}
				}

				results[i] = res
				rec.Cost(types.CostEntry{Stage: types.StageSynthesizing, Amount: res.Cost, Currency: s.currency})
				rec.Event(types.StageSynthesizing, types.SeveritySuccess,
					fmt.Sprintf("segment %s: image ready (%s)", seg.ID, res.Model))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return results, nil
}
