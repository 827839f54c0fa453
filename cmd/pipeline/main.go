// Command pipeline runs one assembly end to end from a local segment
// file and prints the run report. Intended for development and one-off
// renders; the api command is the service entrypoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"storyreel-pipeline/clips"
	"storyreel-pipeline/config"
	"storyreel-pipeline/enhance"
	"storyreel-pipeline/internal/media"
	"storyreel-pipeline/narration"
	"storyreel-pipeline/retry"
	"storyreel-pipeline/runner"
	"storyreel-pipeline/segments"
	"storyreel-pipeline/stitch"
	"storyreel-pipeline/store"
	"storyreel-pipeline/synth"
	"storyreel-pipeline/types"
)

func main() {
	var (
		ownerID     = flag.String("owner", "local", "owner id for the run")
		sessionID   = flag.String("session", "dev", "session id for the run")
		segmentFile = flag.String("segments", "segments.yaml", "path to the segment yaml file")
		configPath  = flag.String("config", "config.yaml", "path to the config file")
	)
	flag.Parse()

	_ = godotenv.Load()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	if err := run(*ownerID, *sessionID, *segmentFile, *configPath, log); err != nil {
		log.Error("pipeline failed", "error", err)
		os.Exit(1)
	}
}

func run(ownerID, sessionID, segmentFile, configPath string, log *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	artifacts, err := store.NewLocalStore(cfg.Paths.Workdir + "/store")
	if err != nil {
		return err
	}

	imageClient, err := synth.NewClient(
		cfg.Services.ImageEndpoint,
		os.Getenv("STORYREEL_IMAGE_API_KEY"),
		cfg.Synth.Model,
	)
	if err != nil {
		return err
	}

	var encoder stitch.RemoteEncoder
	if cfg.Services.EncodeEndpoint != "" {
		encoder = stitch.NewHTTPEncoder(cfg.Services.EncodeEndpoint, os.Getenv("STORYREEL_ENCODE_API_KEY"))
	}

	ffmpeg := media.ExecRunner{}
	policy := retry.Default()

	ctrl := runner.New(runner.Options{
		Source: &segments.FileSource{Path: segmentFile},
		Store:  artifacts,
		Synth: synth.NewStage(imageClient, cfg.Synth.BatchWidth,
			cfg.Synth.ImageWidth, cfg.Synth.ImageHeight, policy, cfg.Report.Currency),
		Clips:     clips.NewAssembler(ffmpeg, cfg.Video, cfg.Clips, policy),
		Narration: narration.NewBuilder(ffmpeg, cfg.Video.FPS),
		Stitch: stitch.NewCoordinator(encoder, stitch.NewLocalStitcher(ffmpeg),
			store.ResolveFetch(artifacts), cfg.Stitch),
		Enhance:   enhance.NewEnhancer(ffmpeg),
		Crossfade: cfg.Video.CrossfadeSec,
		Workdir:   cfg.Paths.Workdir,
		Log:       log,
	})

	ctx := context.Background()
	started, err := ctrl.Start(ctx, ownerID, sessionID)
	if err != nil {
		return err
	}
	log.Info("run started", "run_id", started.RunID)

	final, err := ctrl.Wait(ctx, started.RunID)
	if err != nil {
		return err
	}

	text, err := ctrl.Report(started.RunID)
	if err != nil {
		return err
	}
	fmt.Println(text)

	if final.Stage != types.StageSucceeded {
		return fmt.Errorf("run finished in state %s: %s", final.Stage, final.Error)
	}
	log.Info("run succeeded", "output", final.OutputRef)
	return nil
}
