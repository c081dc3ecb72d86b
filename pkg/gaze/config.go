package gaze

import "time"

// Config holds the tunable parameters of the gaze estimator.
type Config struct {
	// Raster
	Width  int // downscaled frame width
	Height int // downscaled frame height

	// Detection
	MinSkinPixels int // a frame counts as "present" when more pixels than this match

	// Smoothing
	TrackKeep float64 // EMA weight on the previous position while tracking
	IdleKeep  float64 // EMA weight on the previous position while idle
	Jitter    float64 // full width of the per-axis saccade jitter

	// Presence
	Grace time.Duration // sub-threshold time before presence drops

	// Idle motion
	IdleSpeed float64 // phase advance per idle frame (radians)
	IdleAmpX  float64 // horizontal sine amplitude
	IdleAmpY  float64 // vertical cosine amplitude
	IdleFreqY float64 // vertical frequency relative to horizontal
}

// DefaultConfig returns the stock heuristic parameters.
func DefaultConfig() Config {
	return Config{
		Width:  80,
		Height: 60,

		MinSkinPixels: 40,

		TrackKeep: 0.85,
		IdleKeep:  0.98,
		Jitter:    0.02, // ±0.01 per axis

		Grace: time.Second,

		IdleSpeed: 0.015,
		IdleAmpX:  0.3,
		IdleAmpY:  0.15,
		IdleFreqY: 0.6,
	}
}

// CalmConfig smooths harder and drops the saccade jitter. Useful for
// renderers that add their own micro-movement.
func CalmConfig() Config {
	cfg := DefaultConfig()
	cfg.TrackKeep = 0.93
	cfg.Jitter = 0
	return cfg
}
