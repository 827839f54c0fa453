package types

import "time"

// SegmentLabel classifies a segment's role in the script structure.
type SegmentLabel string

const (
	LabelHook       SegmentLabel = "hook"
	LabelConcept    SegmentLabel = "concept"
	LabelProcess    SegmentLabel = "process"
	LabelConclusion SegmentLabel = "conclusion"
)

// Segment is one ordered unit of the script. Immutable once loaded;
// Order defines the only valid sequencing for every downstream artifact.
type Segment struct {
	ID             string       `json:"id" yaml:"id"`
	Order          int          `json:"order" yaml:"order"`
	NarrationRef   string       `json:"narration_ref" yaml:"narration_ref"`
	DurationSec    float64      `json:"duration_sec" yaml:"duration_sec"`
	VisualGuidance string       `json:"visual_guidance" yaml:"visual_guidance"`
	Label          SegmentLabel `json:"label" yaml:"label"`
}

// RunStage enumerates pipeline run lifecycle states.
type RunStage string

const (
	StagePending      RunStage = "pending"
	StageValidating   RunStage = "validating"
	StageSynthesizing RunStage = "synthesizing_images"
	StageAssembling   RunStage = "assembling_clips"
	StageNarration    RunStage = "building_narration"
	StageStitching    RunStage = "stitching"
	StageEnhancing    RunStage = "enhancing"
	StageReporting    RunStage = "reporting"
	StageSucceeded    RunStage = "succeeded"
	StageFailed       RunStage = "failed"
	StageCancelled    RunStage = "cancelled"
)

// Terminal reports whether a stage is a terminal run state.
func (s RunStage) Terminal() bool {
	switch s {
	case StageSucceeded, StageFailed, StageCancelled:
		return true
	default:
		return false
	}
}

// PipelineRun tracks one end-to-end execution for an owner/session pair.
// Owned exclusively by the run controller; mutated only through stage
// transitions.
type PipelineRun struct {
	RunID        string    `json:"run_id"`
	OwnerID      string    `json:"owner_id"`
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	Stage        RunStage  `json:"stage"`
	FallbackUsed bool      `json:"fallback_used"`
	OutputRef    string    `json:"output_ref,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Clip is a normalized, silent, fixed-format video artifact for exactly
// one segment. Every clip in a run shares identical width/height,
// frame rate, and pixel format.
type Clip struct {
	SegmentID   string  `json:"segment_id"`
	ArtifactRef string  `json:"artifact_ref"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FrameRate   int     `json:"frame_rate"`
	PixelFormat string  `json:"pixel_format"`
	DurationSec float64 `json:"duration_sec"`
}

// AudioTrack is the single mixed narration track for a run. SegmentOffsets
// are strictly increasing start times, offset[i] = sum of durations of
// segments 0..i-1.
type AudioTrack struct {
	SegmentOffsets []float64 `json:"segment_offsets"`
	TotalSec       float64   `json:"total_sec"`
	ArtifactRef    string    `json:"artifact_ref"`
	Silent         bool      `json:"silent"`
}

// StitchMode distinguishes the remote encoding path from local assembly.
type StitchMode string

const (
	StitchModeRemote        StitchMode = "remote"
	StitchModeLocalFallback StitchMode = "local_fallback"
)

// StitchStatus enumerates stitch job lifecycle states.
type StitchStatus string

const (
	StitchQueued    StitchStatus = "queued"
	StitchRunning   StitchStatus = "running"
	StitchSucceeded StitchStatus = "succeeded"
	StitchFailed    StitchStatus = "failed"
	StitchTimedOut  StitchStatus = "timed_out"
)

// Terminal reports whether the status ends a stitch job.
func (s StitchStatus) Terminal() bool {
	switch s {
	case StitchSucceeded, StitchFailed, StitchTimedOut:
		return true
	default:
		return false
	}
}

// StitchJob records one stitch attempt: ordered clip inputs, the narration
// track, and the crossfade duration.
type StitchJob struct {
	JobID        string       `json:"job_id,omitempty"`
	Mode         StitchMode   `json:"mode"`
	ClipRefs     []string     `json:"clip_refs"`
	AudioRef     string       `json:"audio_ref"`
	CrossfadeSec float64      `json:"crossfade_sec"`
	Status       StitchStatus `json:"status"`
	OutputRef    string       `json:"output_ref,omitempty"`
}

// Severity grades step events for the status channel and the report.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// StepEvent is one append-only entry in a run's step log. Seq is assigned
// at append time and is strictly increasing within a run.
type StepEvent struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Stage     RunStage  `json:"stage"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
}

// CostEntry is one append-only cost ledger entry. Total cost is always the
// sum over the ledger, never recomputed or overwritten.
type CostEntry struct {
	Stage    RunStage `json:"stage"`
	Amount   float64  `json:"amount"`
	Currency string   `json:"currency"`
}
