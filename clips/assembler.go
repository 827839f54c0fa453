// Package clips converts synthesized images into normalized silent video
// clips. Normalization (scale to fit, centered pad, fixed frame rate and
// pixel format) is applied unconditionally to every clip, so format
// uniformity is a property of this stage's output, never an assumption
// about its input.
package clips

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"storyreel-pipeline/config"
	"storyreel-pipeline/internal/media"
	"storyreel-pipeline/report"
	"storyreel-pipeline/retry"
	"storyreel-pipeline/types"
)

// AssembledClip pairs the clip record with its local working file.
type AssembledClip struct {
	Clip types.Clip
	Path string
}

// Assembler encodes one clip per segment at the run's fixed format.
type Assembler struct {
	runner      media.Runner
	video       config.VideoConfig
	preset      string
	crf         int
	concurrency int
	policy      retry.Policy
}

func NewAssembler(runner media.Runner, video config.VideoConfig, clipsCfg config.ClipsConfig, policy retry.Policy) *Assembler {
	concurrency := clipsCfg.EncodeConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	preset := clipsCfg.Preset
	if preset == "" {
		preset = "fast"
	}
	crf := clipsCfg.CRF
	if crf <= 0 {
		crf = 23
	}
	return &Assembler{
		runner:      runner,
		video:       video,
		preset:      preset,
		crf:         crf,
		concurrency: concurrency,
		policy:      policy,
	}
}

// AssembleAll encodes every segment's clip into dir, preserving segment
// order. Encodes run concurrently up to the configured bound; a clip that
// fails its single retry is fatal.
func (a *Assembler) AssembleAll(ctx context.Context, dir string, segs []types.Segment, imagePaths []string, rec report.Recorder) ([]AssembledClip, error) {
	if len(imagePaths) != len(segs) {
		return nil, fmt.Errorf("got %d images for %d segments", len(imagePaths), len(segs))
	}

	out := make([]AssembledClip, len(segs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i := range segs {
		i := i
		g.Go(func() error {
			clip, err := a.Assemble(gctx, dir, segs[i], imagePaths[i])
			if err != nil {
				return err
			}
			out[i] = clip
			rec.Event(types.StageAssembling, types.SeveritySuccess,
				fmt.Sprintf("segment %s: clip assembled (%.2fs)", segs[i].ID, clip.Clip.DurationSec))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Assemble encodes one image into a silent clip of the segment's exact
// duration. The image is scaled to fit and padded centered, never
// cropped, to avoid losing synthesized content.
func (a *Assembler) Assemble(ctx context.Context, dir string, seg types.Segment, imagePath string) (AssembledClip, error) {
	outPath := filepath.Join(dir, fmt.Sprintf("clip_%03d.mp4", seg.Order))

	filter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1",
		a.video.Width, a.video.Height, a.video.Width, a.video.Height,
	)
	args := []string{
		"-y",
		"-loop", "1",
		"-i", imagePath,
		"-t", fmt.Sprintf("%.3f", seg.DurationSec),
		"-vf", filter,
		"-r", fmt.Sprintf("%d", a.video.FPS),
		"-c:v", "libx264",
		"-preset", a.preset,
		"-crf", fmt.Sprintf("%d", a.crf),
		"-pix_fmt", a.video.PixelFormat,
		"-an",
		outPath,
	}

	err := a.policy.Do(ctx, func(ctx context.Context) error {
		res, runErr := a.runner.Run(ctx, "ffmpeg", args...)
		if runErr != nil {
			return fmt.Errorf("ffmpeg exit %d: %w", res.ExitCode, runErr)
		}
		return nil
	})
	if err != nil {
		return AssembledClip{}, &types.TransientUpstreamError{
			Op:  fmt.Sprintf("clip encode for segment %s", seg.ID),
			Err: err,
		}
	}

	return AssembledClip{
		Clip: types.Clip{
			SegmentID:   seg.ID,
			ArtifactRef: outPath,
			Width:       a.video.Width,
			Height:      a.video.Height,
			FrameRate:   a.video.FPS,
			PixelFormat: a.video.PixelFormat,
			DurationSec: seg.DurationSec,
		},
		Path: outPath,
	}, nil
}
