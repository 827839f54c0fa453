package stitch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel-pipeline/internal/media"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  bool
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) (media.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	if r.fail {
		return media.Result{ExitCode: 1}, errors.New("exit status 1")
	}
	return media.Result{}, nil
}

func testInputs(n int) Inputs {
	in := Inputs{
		AudioPath:    "narration.m4a",
		AudioRef:     "refs/narration.m4a",
		CrossfadeSec: 0.5,
	}
	for i := 0; i < n; i++ {
		in.ClipPaths = append(in.ClipPaths, "clip.mp4")
		in.ClipRefs = append(in.ClipRefs, "refs/clip.mp4")
		in.ClipDurations = append(in.ClipDurations, 10)
	}
	return in
}

func TestXfadeChainOffsets(t *testing.T) {
	// d = [10, 15, 12], D = 0.5: o1 = 9.5, o2 = 9.5 + 15 - 0.5 = 24.
	filter, last := xfadeChain([]float64{10, 15, 12}, 0.5)
	assert.Equal(t, "[v2]", last)
	assert.Contains(t, filter, "[0:v][1:v]xfade=transition=fade:duration=0.500:offset=9.500[v1]")
	assert.Contains(t, filter, "[v1][2:v]xfade=transition=fade:duration=0.500:offset=24.000[v2]")
}

func TestStitchMapsFinalChainAndAudio(t *testing.T) {
	runner := &fakeRunner{}
	s := NewLocalStitcher(runner)

	out, err := s.Stitch(context.Background(), t.TempDir(), testInputs(3))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "final_local.mp4"))

	require.Len(t, runner.calls, 1)
	cmd := strings.Join(runner.calls[0], " ")
	assert.Contains(t, cmd, "-map [v2]")
	assert.Contains(t, cmd, "-map 3:a")
	assert.Contains(t, cmd, "-movflags +faststart")
	assert.Contains(t, cmd, "-c:v libx264")
	assert.Contains(t, cmd, "-c:a aac")
}

func TestStitchSingleClipSkipsCrossfade(t *testing.T) {
	runner := &fakeRunner{}
	s := NewLocalStitcher(runner)

	_, err := s.Stitch(context.Background(), t.TempDir(), testInputs(1))
	require.NoError(t, err)

	cmd := strings.Join(runner.calls[0], " ")
	assert.NotContains(t, cmd, "xfade")
	assert.Contains(t, cmd, "-map 0:v")
	assert.Contains(t, cmd, "-map 1:a")
}

func TestStitchRejectsEmptyInputs(t *testing.T) {
	s := NewLocalStitcher(&fakeRunner{})
	_, err := s.Stitch(context.Background(), t.TempDir(), Inputs{})
	assert.Error(t, err)
}

func TestStitchPropagatesEncodeFailure(t *testing.T) {
	s := NewLocalStitcher(&fakeRunner{fail: true})
	_, err := s.Stitch(context.Background(), t.TempDir(), testInputs(2))
	assert.Error(t, err)
}
