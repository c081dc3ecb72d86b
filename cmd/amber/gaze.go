package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/amber-eyes/internal/log"
	"github.com/teslashibe/amber-eyes/pkg/camera"
	"github.com/teslashibe/amber-eyes/pkg/gaze"
)

var (
	gazeInterval time.Duration
	gazeCalm     bool
)

var gazeCmd = &cobra.Command{
	Use:   "gaze",
	Short: "Run the camera and gaze estimator only, logging readings",
	RunE:  runGaze,
}

func init() {
	gazeCmd.Flags().DurationVar(&gazeInterval, "interval", 500*time.Millisecond, "how often to log the latest reading")
	gazeCmd.Flags().BoolVar(&gazeCalm, "calm", false, "use the calm profile (no jitter, heavier smoothing)")
}

func runGaze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cc := camera.DefaultConfig()
	cc.Device = cfg.Camera.Device
	cc.Width = cfg.Camera.Width
	cc.Height = cfg.Camera.Height
	cc.Framerate = cfg.Camera.FPS

	gc := gaze.DefaultConfig()
	if gazeCalm {
		gc = gaze.CalmConfig()
	}

	logger := log.L()
	tracker := gaze.NewTracker(camera.NewDevice(cc, logger), gc, gaze.WithLogger(logger))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		ticker := time.NewTicker(gazeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r := tracker.Latest()
				frames, published := tracker.Stats()
				logger.Info("gaze",
					"x", r.Look.X,
					"y", r.Look.Y,
					"tracking", r.Present,
					"skin_pixels", r.Count,
					"frames", frames,
					"published", published,
				)
			}
		}
	}()

	return tracker.Run(ctx)
}
