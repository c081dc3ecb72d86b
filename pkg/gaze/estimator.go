// Package gaze turns camera frames into a smoothed look-direction target
// and a "subject present" flag.
//
// The heuristic is deliberately coarse: pixels are classified as
// skin-like by color alone and the centroid of the matches is the target.
// Everything but the capture loop is pure so it can be tested frame by
// frame.
package gaze

import (
	"image"
	"math/rand/v2"
	"time"
)

// Reading is one published gaze update.
type Reading struct {
	Look    LookTarget `json:"lookAt"`
	Present bool       `json:"isTracking"`
	Count   int        `json:"skinPixels"`
	Idle    bool       `json:"idle"`
}

// TrackingState is the estimator's memory between frames.
type TrackingState struct {
	Smoothed     LookTarget
	Phase        float64
	LastDetected time.Time
	Present      bool
}

// Estimator applies the gaze heuristic to successive frames.
// It is not safe for concurrent use; the Tracker owns one per loop.
type Estimator struct {
	cfg    Config
	state  TrackingState
	jitter func() float64
}

// EstimatorOption configures an Estimator.
type EstimatorOption func(*Estimator)

// WithJitterSource sets the [0,1) source used for saccade jitter.
func WithJitterSource(f func() float64) EstimatorOption {
	return func(e *Estimator) { e.jitter = f }
}

// NewEstimator creates an estimator centered at (0,0) with nobody present.
func NewEstimator(cfg Config, opts ...EstimatorOption) *Estimator {
	e := &Estimator{cfg: cfg, jitter: rand.Float64}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns a copy of the tracking state.
func (e *Estimator) State() TrackingState { return e.state }

// Step processes one frame captured at now. It reports false when the
// frame produced no update: a sub-threshold frame inside the grace period
// leaves the previous reading in place.
func (e *Estimator) Step(now time.Time, frame image.Image) (Reading, bool) {
	raster := Downscale(frame, e.cfg.Width, e.cfg.Height)
	return e.StepDetection(now, Locate(raster))
}

// StepDetection is Step for an already located raster.
func (e *Estimator) StepDetection(now time.Time, d Detection) (Reading, bool) {
	if d.Count > e.cfg.MinSkinPixels {
		target := Normalize(d.CX, d.CY, e.cfg.Width, e.cfg.Height)
		e.state.Smoothed = Blend(e.state.Smoothed, target, e.cfg.TrackKeep)
		e.state.Present = true
		e.state.LastDetected = now

		// Jitter decorates the output only; the filter state stays clean.
		look := LookTarget{
			X: e.state.Smoothed.X + (e.jitter()-0.5)*e.cfg.Jitter,
			Y: e.state.Smoothed.Y + (e.jitter()-0.5)*e.cfg.Jitter,
		}
		return Reading{Look: look, Present: true, Count: d.Count}, true
	}

	if now.Sub(e.state.LastDetected) <= e.cfg.Grace {
		return Reading{}, false
	}

	e.state.Present = false
	e.state.Phase += e.cfg.IdleSpeed
	e.state.Smoothed = Blend(e.state.Smoothed, IdleOffset(e.state.Phase, e.cfg), e.cfg.IdleKeep)
	return Reading{Look: e.state.Smoothed, Present: false, Count: d.Count, Idle: true}, true
}

// Unavailable is the reading published when no camera can be used.
func Unavailable() Reading {
	return Reading{Look: LookTarget{}, Present: false}
}
