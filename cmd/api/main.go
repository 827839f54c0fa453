// Command api serves the pipeline run API: start a run for an
// owner/session pair, follow its step events, cancel it, and read its
// report.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"storyreel-pipeline/clips"
	"storyreel-pipeline/config"
	"storyreel-pipeline/enhance"
	"storyreel-pipeline/internal/media"
	"storyreel-pipeline/internal/platform"
	"storyreel-pipeline/narration"
	"storyreel-pipeline/retry"
	"storyreel-pipeline/runner"
	"storyreel-pipeline/segments"
	"storyreel-pipeline/status"
	"storyreel-pipeline/stitch"
	"storyreel-pipeline/store"
	"storyreel-pipeline/synth"
	"storyreel-pipeline/types"
)

func main() {
	_ = godotenv.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load(envOr("STORYREEL_CONFIG", "config.yaml"))
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	db, err := platform.ConnectDB()
	if err != nil {
		log.Error("connect database", "error", err)
		os.Exit(1)
	}

	ctrl, err := buildController(cfg, log, db)
	if err != nil {
		log.Error("wire pipeline", "error", err)
		os.Exit(1)
	}

	r := gin.Default()
	registerRoutes(r, ctrl)

	addr := envOr("STORYREEL_LISTEN_ADDR", ":8080")
	log.Info("api listening", "addr", addr)
	if err := r.Run(addr); err != nil {
		log.Error("serve", "error", err)
		os.Exit(1)
	}
}

func buildController(cfg *config.Config, log *slog.Logger, db *gorm.DB) (*runner.Controller, error) {
	artifacts, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	imageClient, err := synth.NewClient(
		cfg.Services.ImageEndpoint,
		os.Getenv("STORYREEL_IMAGE_API_KEY"),
		cfg.Synth.Model,
	)
	if err != nil {
		return nil, err
	}

	var encoder stitch.RemoteEncoder
	if cfg.Services.EncodeEndpoint != "" {
		encoder = stitch.NewHTTPEncoder(cfg.Services.EncodeEndpoint, os.Getenv("STORYREEL_ENCODE_API_KEY"))
	}

	var publisher *status.Publisher
	if rdb, err := platform.ConnectRedis(); err != nil {
		return nil, err
	} else if rdb != nil {
		publisher = status.NewPublisher(rdb, envOr("STORYREEL_STATUS_CHANNEL", "storyreel:events"), log)
	}

	ffmpeg := media.ExecRunner{}
	policy := retry.Default()

	return runner.New(runner.Options{
		Source: segments.NewGormSource(db),
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
		Publisher: publisher,
	}), nil
}

func buildStore(cfg *config.Config) (store.Store, error) {
	mcfg, ok, err := store.MinioConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if !ok {
		return store.NewLocalStore(cfg.Paths.Workdir + "/store")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return store.NewMinioStore(ctx, mcfg)
}

func registerRoutes(r *gin.Engine, ctrl *runner.Controller) {
	r.POST("/runs", func(c *gin.Context) {
		var req struct {
			OwnerID   string `json:"owner_id" binding:"required"`
			SessionID string `json:"session_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		run, err := ctrl.Start(c.Request.Context(), req.OwnerID, req.SessionID)
		if err != nil {
			var verr *types.ValidationError
			switch {
			case errors.Is(err, runner.ErrRunActive):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			case errors.As(err, &verr):
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusAccepted, run)
	})

	r.GET("/runs/:id", func(c *gin.Context) {
		run, err := ctrl.Get(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		job, _ := ctrl.Job(c.Param("id"))
		c.JSON(http.StatusOK, gin.H{"run": run, "stitch_job": job})
	})

	r.GET("/runs/:id/events", func(c *gin.Context) {
		since, _ := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
		events, err := ctrl.Events(c.Param("id"), since)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	})

	r.GET("/runs/:id/report", func(c *gin.Context) {
		text, err := ctrl.Report(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if text == "" {
			c.JSON(http.StatusConflict, gin.H{"error": "run is not finished"})
			return
		}
		c.String(http.StatusOK, text)
	})

	r.POST("/runs/:id/cancel", func(c *gin.Context) {
		if err := ctrl.Cancel(c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
