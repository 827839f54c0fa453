package stitch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"storyreel-pipeline/types"
)

// RemoteEncoder is the remote encoding service boundary: submit a stitch
// job, poll it to a terminal status, cancel it best-effort.
type RemoteEncoder interface {
	Submit(ctx context.Context, job types.StitchJob) (string, error)
	Poll(ctx context.Context, jobID string) (PollResult, error)
	Cancel(ctx context.Context, jobID string) error
}

// PollResult is one observation of a remote job.
type PollResult struct {
	Status    types.StitchStatus
	OutputRef string
	Reason    string
}

// HTTPEncoder talks to the encoding service's render API.
type HTTPEncoder struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func NewHTTPEncoder(endpoint, apiKey string) *HTTPEncoder {
	return &HTTPEncoder{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

type submitRequest struct {
	ClipRefs     []string `json:"clip_refs"`
	AudioRef     string   `json:"audio_ref"`
	CrossfadeSec float64  `json:"crossfade_sec"`
	Transition   string   `json:"transition"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type pollResponse struct {
	Status    string `json:"status"`
	OutputURL string `json:"output_url"`
	Error     string `json:"error"`
}

func (e *HTTPEncoder) Submit(ctx context.Context, job types.StitchJob) (string, error) {
	body, err := json.Marshal(submitRequest{
		ClipRefs:     job.ClipRefs,
		AudioRef:     job.AudioRef,
		CrossfadeSec: job.CrossfadeSec,
		Transition:   "fade",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/v1/renders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	e.auth(req)

	resp, err := e.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("encode service submit returned HTTP %d: %s", resp.StatusCode, raw)
	}

	var sub submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if sub.JobID == "" {
		return "", fmt.Errorf("encode service returned no job id")
	}
	return sub.JobID, nil
}

func (e *HTTPEncoder) Poll(ctx context.Context, jobID string) (PollResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/v1/renders/"+jobID, nil)
	if err != nil {
		return PollResult{}, err
	}
	e.auth(req)

	resp, err := e.http.Do(req)
	if err != nil {
		return PollResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PollResult{}, fmt.Errorf("encode service poll returned HTTP %d: %s", resp.StatusCode, raw)
	}

	var poll pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&poll); err != nil {
		return PollResult{}, fmt.Errorf("decode poll response: %w", err)
	}

	switch poll.Status {
	case "queued":
		return PollResult{Status: types.StitchQueued}, nil
	case "rendering":
		return PollResult{Status: types.StitchRunning}, nil
	case "done":
		if poll.OutputURL == "" {
			return PollResult{}, fmt.Errorf("encode service reported done with no output url")
		}
		return PollResult{Status: types.StitchSucceeded, OutputRef: poll.OutputURL}, nil
	case "failed":
		return PollResult{Status: types.StitchFailed, Reason: poll.Error}, nil
	default:
		return PollResult{}, fmt.Errorf("encode service returned unknown status %q", poll.Status)
	}
}

// Cancel is best-effort; a failed cancel is the service's problem, not
// the run's.
func (e *HTTPEncoder) Cancel(ctx context.Context, jobID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, e.endpoint+"/v1/renders/"+jobID, nil)
	if err != nil {
		return err
	}
	e.auth(req)

	resp, err := e.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (e *HTTPEncoder) auth(req *http.Request) {
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
}
