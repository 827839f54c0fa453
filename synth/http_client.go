package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ServiceError is a typed synthesis failure carrying the upstream status.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("image service returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Client calls the image-generation service over HTTP and downloads the
// produced image next to the run's other working artifacts.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	http     *http.Client
}

// NewClient validates the model name against the known cost table.
func NewClient(endpoint, apiKey, model string) (*Client, error) {
	if _, ok := ModelCosts[model]; !ok {
		return nil, fmt.Errorf("unknown image model %q", model)
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		http:     &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type generateRequest struct {
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Seed         int    `json:"seed"`
	OutputFormat string `json:"output_format"`
}

type generateResponse struct {
	URL string `json:"url"`
}

// Generate requests one image and saves it into dir.
func (c *Client) Generate(ctx context.Context, dir string, req Request) (Result, error) {
	body, err := json.Marshal(generateRequest{
		Model:        c.model,
		Prompt:       req.Prompt,
		Width:        req.Width,
		Height:       req.Height,
		Seed:         req.Seed,
		OutputFormat: "png",
	})
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/images", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, &ServiceError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return Result{}, fmt.Errorf("decode image response: %w", err)
	}
	if gen.URL == "" {
		return Result{}, fmt.Errorf("image service returned no url")
	}

	outPath := filepath.Join(dir, fmt.Sprintf("image_%s.png", req.SegmentID))
	if err := c.download(ctx, gen.URL, outPath); err != nil {
		return Result{}, err
	}

	return Result{
		SegmentID: req.SegmentID,
		Ref:       gen.URL,
		Path:      outPath,
		Model:     c.model,
		Cost:      ModelCosts[c.model],
	}, nil
}

func (c *Client) download(ctx context.Context, url, outPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ServiceError{StatusCode: resp.StatusCode, Body: "image download failed"}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	// A tiny body is an upstream error page, not an image.
	if len(data) < 100 {
		return fmt.Errorf("image response too small (%d bytes)", len(data))
	}
	return os.WriteFile(outPath, data, 0o644)
}
