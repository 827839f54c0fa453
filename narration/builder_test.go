package narration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel-pipeline/internal/media"
	"storyreel-pipeline/types"
)

// fakeRunner fails the first failMixes ffmpeg mix invocations; ffprobe
// calls report probeDuration.
type fakeRunner struct {
	mu            sync.Mutex
	calls         [][]string
	failMixes     int
	failAll       bool
	probeDuration string
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) (media.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))

	if name == "ffprobe" {
		return media.Result{Stdout: r.probeDuration}, nil
	}
	if r.failAll {
		return media.Result{ExitCode: 1}, errors.New("exit status 1")
	}
	if r.failMixes > 0 && isMix(args) {
		r.failMixes--
		return media.Result{ExitCode: 1}, errors.New("exit status 1")
	}
	return media.Result{}, nil
}

func isMix(args []string) bool {
	for _, a := range args {
		if strings.Contains(a, "amix") {
			return true
		}
	}
	return false
}

type captureRecorder struct {
	mu     sync.Mutex
	events []types.StepEvent
}

func (r *captureRecorder) Event(stage types.RunStage, severity types.Severity, message string) types.StepEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := types.StepEvent{Stage: stage, Severity: severity, Message: message}
	r.events = append(r.events, ev)
	return ev
}

func (r *captureRecorder) Cost(entry types.CostEntry) {}

func testSegments() []types.Segment {
	durations := []float64{10, 15, 12, 8}
	segs := make([]types.Segment, len(durations))
	for i, d := range durations {
		segs[i] = types.Segment{ID: fmt.Sprintf("seg-%d", i), Order: i, NarrationRef: "n", DurationSec: d}
	}
	return segs
}

func narrationPaths(n int) []string {
	paths := make([]string, n)
	for i := range paths {
		paths[i] = fmt.Sprintf("narration_%d.mp3", i)
	}
	return paths
}

func TestBuildOffsetsAndTotal(t *testing.T) {
	runner := &fakeRunner{probeDuration: "45.0"}
	b := NewBuilder(runner, 30)

	track, err := b.Build(context.Background(), t.TempDir(), testSegments(), narrationPaths(4), &captureRecorder{})
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 10, 25, 37}, track.Audio.SegmentOffsets)
	assert.InDelta(t, 45, track.Audio.TotalSec, 1e-9)
	assert.False(t, track.Audio.Silent)
}

func TestBuildMixCommandShape(t *testing.T) {
	runner := &fakeRunner{probeDuration: "45.0"}
	b := NewBuilder(runner, 30)

	_, err := b.Build(context.Background(), t.TempDir(), testSegments(), narrationPaths(4), &captureRecorder{})
	require.NoError(t, err)

	require.NotEmpty(t, runner.calls)
	cmd := strings.Join(runner.calls[0], " ")
	assert.Contains(t, cmd, "anullsrc=channel_layout=stereo:sample_rate=44100")
	assert.Contains(t, cmd, "-t 45.000")
	assert.Contains(t, cmd, "adelay=10000|10000")
	assert.Contains(t, cmd, "adelay=25000|25000")
	assert.Contains(t, cmd, "adelay=37000|37000")
	assert.Contains(t, cmd, "amix=inputs=5:duration=first:normalize=0")
	assert.Contains(t, cmd, "-c:a aac")
}

func TestBuildMixFailureDegradesToSilentTrack(t *testing.T) {
	runner := &fakeRunner{failMixes: 1}
	b := NewBuilder(runner, 30)
	rec := &captureRecorder{}

	track, err := b.Build(context.Background(), t.TempDir(), testSegments(), narrationPaths(4), rec)
	require.NoError(t, err)
	assert.True(t, track.Audio.Silent)
	assert.InDelta(t, 45, track.Audio.TotalSec, 1e-9)

	require.NotEmpty(t, rec.events)
	assert.Equal(t, types.SeverityWarning, rec.events[0].Severity)
}

func TestBuildSilentFallbackFailureIsFatal(t *testing.T) {
	runner := &fakeRunner{failAll: true}
	b := NewBuilder(runner, 30)

	_, err := b.Build(context.Background(), t.TempDir(), testSegments(), narrationPaths(4), &captureRecorder{})
	assert.Error(t, err)
}

func TestBuildWarnsOnDurationDrift(t *testing.T) {
	// 44.5s measured against a 45s target is beyond the 1/30s tolerance.
	runner := &fakeRunner{probeDuration: "44.5"}
	b := NewBuilder(runner, 30)
	rec := &captureRecorder{}

	_, err := b.Build(context.Background(), t.TempDir(), testSegments(), narrationPaths(4), rec)
	require.NoError(t, err)
	require.Len(t, rec.events, 1)
	assert.Equal(t, types.SeverityWarning, rec.events[0].Severity)
	assert.Contains(t, rec.events[0].Message, "deviates")
}

func TestBuildRejectsMismatchedInputs(t *testing.T) {
	b := NewBuilder(&fakeRunner{}, 30)
	_, err := b.Build(context.Background(), t.TempDir(), testSegments(), narrationPaths(2), &captureRecorder{})
	assert.Error(t, err)
}
