// Package narration builds the single mixed narration track for a run.
// Each segment's narration starts at the cumulative offset of all prior
// segments; gaps are silent and overlap is impossible by construction.
// Audio is non-critical: a mixing failure degrades the run to a fully
// silent track of the correct duration instead of aborting it.
package narration

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"storyreel-pipeline/internal/media"
	"storyreel-pipeline/report"
	"storyreel-pipeline/segments"
	"storyreel-pipeline/types"
)

const (
	sampleRate   = 44100
	audioBitrate = "192k"
)

// Track pairs the audio track record with its local working file.
type Track struct {
	Audio types.AudioTrack
	Path  string
}

// Builder mixes per-segment narration files into one track.
type Builder struct {
	runner media.Runner
	fps    int
}

func NewBuilder(runner media.Runner, fps int) *Builder {
	if fps <= 0 {
		fps = 30
	}
	return &Builder{runner: runner, fps: fps}
}

// Build mixes the ordered narration files over a silent base whose
// duration equals the sum of segment durations. narrationPaths must be
// in segment order.
func (b *Builder) Build(ctx context.Context, dir string, segs []types.Segment, narrationPaths []string, rec report.Recorder) (Track, error) {
	if len(narrationPaths) != len(segs) {
		return Track{}, fmt.Errorf("got %d narration files for %d segments", len(narrationPaths), len(segs))
	}

	offsets := segments.Offsets(segs)
	total := segments.TotalDuration(segs)
	outPath := filepath.Join(dir, "narration_mixed.m4a")

	if err := b.mix(ctx, narrationPaths, offsets, total, outPath); err != nil {
		rec.Event(types.StageNarration, types.SeverityWarning,
			fmt.Sprintf("narration mix failed, continuing with silent track: %v", err))
		silentPath := filepath.Join(dir, "narration_silent.m4a")
		if serr := b.silent(ctx, total, silentPath); serr != nil {
			return Track{}, fmt.Errorf("silent track fallback: %w", serr)
		}
		return Track{
			Audio: types.AudioTrack{SegmentOffsets: offsets, TotalSec: total, ArtifactRef: silentPath, Silent: true},
			Path:  silentPath,
		}, nil
	}

	b.checkDuration(ctx, outPath, total, rec)
	return Track{
		Audio: types.AudioTrack{SegmentOffsets: offsets, TotalSec: total, ArtifactRef: outPath},
		Path:  outPath,
	}, nil
}

// mix delays each narration to its segment offset and mixes everything
// over an exact-length silent base, so the output duration is pinned to
// the base regardless of narration lengths.
func (b *Builder) mix(ctx context.Context, narrationPaths []string, offsets []float64, total float64, outPath string) error {
	args := []string{
		"-y",
		"-f", "lavfi",
		"-t", fmt.Sprintf("%.3f", total),
		"-i", fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", sampleRate),
	}
	for _, p := range narrationPaths {
		args = append(args, "-i", p)
	}

	var filters []string
	for i := range narrationPaths {
		delayMs := int(math.Round(offsets[i] * 1000))
		filters = append(filters, fmt.Sprintf("[%d:a]adelay=%d|%d[a%d]", i+1, delayMs, delayMs, i))
	}
	var mixInputs strings.Builder
	mixInputs.WriteString("[0:a]")
	for i := range narrationPaths {
		fmt.Fprintf(&mixInputs, "[a%d]", i)
	}
	filterComplex := strings.Join(filters, ";") + ";" +
		mixInputs.String() +
		fmt.Sprintf("amix=inputs=%d:duration=first:normalize=0[aout]", len(narrationPaths)+1)

	args = append(args,
		"-filter_complex", filterComplex,
		"-map", "[aout]",
		"-c:a", "aac",
		"-b:a", audioBitrate,
		outPath,
	)

	if res, err := b.runner.Run(ctx, "ffmpeg", args...); err != nil {
		return fmt.Errorf("ffmpeg narration mix exit %d: %w", res.ExitCode, err)
	}
	return nil
}

// silent writes a narration-free track of the exact total duration.
func (b *Builder) silent(ctx context.Context, total float64, outPath string) error {
	args := []string{
		"-y",
		"-f", "lavfi",
		"-t", fmt.Sprintf("%.3f", total),
		"-i", fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", sampleRate),
		"-c:a", "aac",
		"-b:a", audioBitrate,
		outPath,
	}
	if res, err := b.runner.Run(ctx, "ffmpeg", args...); err != nil {
		return fmt.Errorf("ffmpeg silent track exit %d: %w", res.ExitCode, err)
	}
	return nil
}

// checkDuration warns when the mixed track drifts more than one frame
// period from the segment total.
func (b *Builder) checkDuration(ctx context.Context, path string, total float64, rec report.Recorder) {
	measured, err := media.Duration(ctx, b.runner, path)
	if err != nil {
		return
	}
	tolerance := 1.0 / float64(b.fps)
	if math.Abs(measured-total) > tolerance {
		rec.Event(types.StageNarration, types.SeverityWarning,
			fmt.Sprintf("narration track duration %.3fs deviates from segment total %.3fs", measured, total))
	}
}
