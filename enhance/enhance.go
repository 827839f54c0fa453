// Package enhance applies the cosmetic finishing pass (color grade and
// sharpen) to the stitched video. Enhancement never fails a run: on any
// error the un-enhanced video is the final artifact.
package enhance

import (
	"context"
	"fmt"
	"path/filepath"

	"storyreel-pipeline/internal/media"
	"storyreel-pipeline/report"
	"storyreel-pipeline/types"
)

const enhanceFilter = "eq=contrast=1.05:brightness=0.02:saturation=1.08,unsharp=5:5:0.8"

// Enhancer re-encodes the stitched video with the finishing filter chain.
type Enhancer struct {
	runner media.Runner
}

func NewEnhancer(runner media.Runner) *Enhancer {
	return &Enhancer{runner: runner}
}

// Run enhances inputPath into dir and returns the path to use as the
// final video. On failure it records a warning and returns inputPath
// unchanged.
func (e *Enhancer) Run(ctx context.Context, dir, inputPath string, rec report.Recorder) string {
	outPath := filepath.Join(dir, "final_enhanced.mp4")
	args := []string{
		"-y",
		"-i", inputPath,
		"-vf", enhanceFilter,
		"-c:v", "libx264",
		"-c:a", "copy",
		"-movflags", "+faststart",
		outPath,
	}

	if res, err := e.runner.Run(ctx, "ffmpeg", args...); err != nil {
		deg := &types.NonCriticalDegradation{
			Op:  "enhancement",
			Err: fmt.Errorf("ffmpeg exit %d: %w", res.ExitCode, err),
		}
		rec.Event(types.StageEnhancing, types.SeverityWarning,
			fmt.Sprintf("%v, keeping un-enhanced video", deg))
		return inputPath
	}

	rec.Event(types.StageEnhancing, types.SeveritySuccess, "enhancement pass completed")
	return outPath
}
