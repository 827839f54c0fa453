package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Video    VideoConfig    `yaml:"video"`
	Synth    SynthConfig    `yaml:"synth"`
	Clips    ClipsConfig    `yaml:"clips"`
	Stitch   StitchConfig   `yaml:"stitch"`
	Report   ReportConfig   `yaml:"report"`
	Services ServicesConfig `yaml:"services"`
	Paths    PathsConfig    `yaml:"paths"`
}

type VideoConfig struct {
	Width        int     `yaml:"width"`
	Height       int     `yaml:"height"`
	FPS          int     `yaml:"fps"`
	PixelFormat  string  `yaml:"pixel_format"`
	CrossfadeSec float64 `yaml:"crossfade_sec"`
}

type SynthConfig struct {
	Model       string `yaml:"model"`
	BatchWidth  int    `yaml:"batch_width"`
	ImageWidth  int    `yaml:"image_width"`
	ImageHeight int    `yaml:"image_height"`
}

type ClipsConfig struct {
	EncodeConcurrency int    `yaml:"encode_concurrency"`
	Preset            string `yaml:"preset"`
	CRF               int    `yaml:"crf"`
}

type StitchConfig struct {
	PollIntervalSec float64 `yaml:"poll_interval_sec"`
	TimeoutSec      float64 `yaml:"timeout_sec"`
}

type ReportConfig struct {
	Currency string `yaml:"currency"`
}

type ServicesConfig struct {
	ImageEndpoint  string `yaml:"image_endpoint"`
	EncodeEndpoint string `yaml:"encode_endpoint"`
}

type PathsConfig struct {
	Workdir string `yaml:"workdir"`
}

// Default returns the built-in configuration: 1080p30 output, small
// synthesis batches, half-second crossfades, and an eight minute remote
// stitch deadline polled every five seconds.
func Default() *Config {
	return &Config{
		Video: VideoConfig{
			Width:        1920,
			Height:       1080,
			FPS:          30,
			PixelFormat:  "yuv420p",
			CrossfadeSec: 0.5,
		},
		Synth: SynthConfig{
			Model:       "flux-schnell",
			BatchWidth:  2,
			ImageWidth:  1920,
			ImageHeight: 1080,
		},
		Clips: ClipsConfig{
			EncodeConcurrency: 2,
			Preset:            "fast",
			CRF:               23,
		},
		Stitch: StitchConfig{
			PollIntervalSec: 5,
			TimeoutSec:      480,
		},
		Report: ReportConfig{
			Currency: "USD",
		},
		Paths: PathsConfig{
			Workdir: "output",
		},
	}
}

// Load reads a yaml config file over the defaults. A missing file is not
// an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		return fmt.Errorf("video resolution must be positive, got %dx%d", c.Video.Width, c.Video.Height)
	}
	if c.Video.FPS <= 0 {
		return fmt.Errorf("video fps must be positive, got %d", c.Video.FPS)
	}
	if c.Video.CrossfadeSec < 0 {
		return fmt.Errorf("crossfade_sec must not be negative, got %.2f", c.Video.CrossfadeSec)
	}
	if c.Synth.BatchWidth <= 0 {
		return fmt.Errorf("synth batch_width must be positive, got %d", c.Synth.BatchWidth)
	}
	if c.Stitch.PollIntervalSec <= 0 || c.Stitch.TimeoutSec <= 0 {
		return fmt.Errorf("stitch poll interval and timeout must be positive")
	}
	return nil
}
