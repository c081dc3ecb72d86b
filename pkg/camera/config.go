// Package camera provides the frame sources feeding the gaze estimator:
// a local capture device via OpenCV and frames pushed by a browser.
package camera

import "fmt"

// Config holds capture parameters for a local device.
type Config struct {
	Device    int `json:"device"`    // OpenCV device index
	Width     int `json:"width"`     // requested frame width in pixels
	Height    int `json:"height"`    // requested frame height in pixels
	Framerate int `json:"framerate"` // requested FPS

	// MaxMisses is how many consecutive failed reads end the stream.
	MaxMisses int `json:"max_misses"`
}

// DefaultConfig returns the capture settings the gaze heuristic was tuned
// for: a small 320x240 front camera image.
func DefaultConfig() Config {
	return Config{
		Device:    0,
		Width:     320,
		Height:    240,
		Framerate: 30,
		MaxMisses: 30,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string
	if c.Device < 0 {
		errors = append(errors, "device must be >= 0")
	}
	if c.Width < 80 || c.Width > 4096 {
		errors = append(errors, fmt.Sprintf("width %d must be between 80 and 4096", c.Width))
	}
	if c.Height < 60 || c.Height > 4096 {
		errors = append(errors, fmt.Sprintf("height %d must be between 60 and 4096", c.Height))
	}
	if c.Framerate < 1 || c.Framerate > 120 {
		errors = append(errors, "framerate must be between 1 and 120")
	}
	if c.MaxMisses < 1 {
		errors = append(errors, "max_misses must be >= 1")
	}
	return errors
}
