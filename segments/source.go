// Package segments is the read-only boundary to the upstream script
// store: it fetches the ordered segment list for an owner/session pair
// and validates it before the pipeline accepts a run.
package segments

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"storyreel-pipeline/types"
)

// Source fetches the ordered segment list plus narration references for
// an owner/session pair. Absence of required inputs is a validation
// error, not a retryable one.
type Source interface {
	Fetch(ctx context.Context, ownerID, sessionID string) ([]types.Segment, error)
}

// Validate checks the invariants every downstream stage relies on:
// at least one segment, contiguous 0-based order, positive durations,
// narration references present. Segments are sorted by order in place.
func Validate(segs []types.Segment) error {
	if len(segs) == 0 {
		return &types.ValidationError{Field: "segments", Reason: "no segments for session"}
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Order < segs[j].Order })
	for i, seg := range segs {
		if seg.Order != i {
			return &types.ValidationError{
				Field:  "segments",
				Reason: fmt.Sprintf("segment orders must be 0-based and contiguous, got %d at position %d", seg.Order, i),
			}
		}
		if seg.ID == "" {
			return &types.ValidationError{Field: "segments", Reason: fmt.Sprintf("segment %d has no id", i)}
		}
		if seg.DurationSec <= 0 {
			return &types.ValidationError{
				Field:  seg.ID,
				Reason: fmt.Sprintf("duration must be positive, got %.3f", seg.DurationSec),
			}
		}
		if seg.NarrationRef == "" {
			return &types.ValidationError{Field: seg.ID, Reason: "narration reference is missing"}
		}
	}
	return nil
}

// TotalDuration sums segment durations in seconds.
func TotalDuration(segs []types.Segment) float64 {
	var total float64
	for _, seg := range segs {
		total += seg.DurationSec
	}
	return total
}

// Offsets returns the cumulative start time of every segment:
// offset[i] = sum of durations of segments 0..i-1.
func Offsets(segs []types.Segment) []float64 {
	offsets := make([]float64, len(segs))
	var elapsed float64
	for i, seg := range segs {
		offsets[i] = elapsed
		elapsed += seg.DurationSec
	}
	return offsets
}

// FileSource reads segments from a yaml file. Used by the CLI runner.
type FileSource struct {
	Path string
}

type segmentFile struct {
	Segments []types.Segment `yaml:"segments"`
}

func (s *FileSource) Fetch(ctx context.Context, ownerID, sessionID string) ([]types.Segment, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &types.ValidationError{Field: "segments", Reason: fmt.Sprintf("segment file not found: %s", s.Path)}
		}
		return nil, err
	}
	var file segmentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &types.ValidationError{Field: "segments", Reason: fmt.Sprintf("malformed segment file: %v", err)}
	}
	return file.Segments, nil
}
