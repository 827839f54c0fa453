package stitch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"storyreel-pipeline/internal/media"
)

// Inputs carries everything a stitch needs in both forms: store references
// for the remote service and local working files for the fallback.
type Inputs struct {
	ClipPaths     []string
	ClipRefs      []string
	ClipDurations []float64
	AudioPath     string
	AudioRef      string
	CrossfadeSec  float64
}

// LocalAssembler stitches clips and narration on this host.
type LocalAssembler interface {
	Stitch(ctx context.Context, dir string, in Inputs) (string, error)
}

// LocalStitcher chains clips with crossfade transitions via ffmpeg and
// muxes the narration track in one pass.
type LocalStitcher struct {
	runner media.Runner
}

func NewLocalStitcher(runner media.Runner) *LocalStitcher {
	return &LocalStitcher{runner: runner}
}

// Stitch produces the final video from local clip files. Clips must be in
// segment order and share one format; the crossfade between consecutive
// clips overlaps the tail of one with the head of the next, so the output
// is shorter than the clip total by (N-1) crossfade durations.
func (s *LocalStitcher) Stitch(ctx context.Context, dir string, in Inputs) (string, error) {
	if len(in.ClipPaths) == 0 {
		return "", fmt.Errorf("no clips to stitch")
	}
	if len(in.ClipDurations) != len(in.ClipPaths) {
		return "", fmt.Errorf("got %d durations for %d clips", len(in.ClipDurations), len(in.ClipPaths))
	}

	outPath := filepath.Join(dir, "final_local.mp4")

	args := []string{"-y"}
	for _, p := range in.ClipPaths {
		args = append(args, "-i", p)
	}
	args = append(args, "-i", in.AudioPath)
	audioIndex := len(in.ClipPaths)

	if len(in.ClipPaths) == 1 {
		args = append(args, "-map", "0:v", "-map", fmt.Sprintf("%d:a", audioIndex))
	} else {
		filter, lastLabel := xfadeChain(in.ClipDurations, in.CrossfadeSec)
		args = append(args,
			"-filter_complex", filter,
			"-map", lastLabel,
			"-map", fmt.Sprintf("%d:a", audioIndex),
		)
	}

	args = append(args,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-movflags", "+faststart",
		"-shortest",
		outPath,
	)

	if res, err := s.runner.Run(ctx, "ffmpeg", args...); err != nil {
		return "", fmt.Errorf("ffmpeg stitch exit %d: %w", res.ExitCode, err)
	}
	return outPath, nil
}

// xfadeChain folds the clips left to right. Each transition's offset is
// where the fade starts on the accumulated timeline: the accumulated
// duration so far minus one crossfade.
func xfadeChain(durations []float64, crossfade float64) (string, string) {
	var filters []string
	prevLabel := "[0:v]"
	elapsed := durations[0]
	for i := 1; i < len(durations); i++ {
		offset := elapsed - crossfade
		if offset < 0 {
			offset = 0
		}
		outLabel := fmt.Sprintf("[v%d]", i)
		filters = append(filters, fmt.Sprintf(
			"%s[%d:v]xfade=transition=fade:duration=%.3f:offset=%.3f%s",
			prevLabel, i, crossfade, offset, outLabel,
		))
		prevLabel = outLabel
		elapsed = offset + durations[i]
	}
	return strings.Join(filters, ";"), prevLabel
}
