// Package audioio captures microphone audio and converts it between the
// float sample buffers used internally and the 16-bit PCM carried on the
// wire.
//
// Capture backends:
//   - ffmpeg - a local microphone through an ffmpeg child process
//   - ingest - samples pushed by a browser over the ingest websocket
//   - mock   - synthetic audio for tests
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the capture backend type.
type Backend string

const (
	// BackendFFmpeg captures through an ffmpeg child process.
	BackendFFmpeg Backend = "ffmpeg"
	// BackendIngest receives samples pushed from a browser.
	BackendIngest Backend = "ingest"
	// BackendMock generates synthetic audio.
	BackendMock Backend = "mock"
)

// Config holds capture configuration.
type Config struct {
	// Backend specifies which capture backend to use.
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the capture rate in Hz.
	// Default: 16000 (what the agent expects)
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the size of captured buffers.
	// Default: 256ms (4096 samples at 16kHz)
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Format is the ffmpeg input format, e.g. "pulse", "alsa", "avfoundation".
	Format string `yaml:"format" json:"format"`

	// Device is the ffmpeg input device, e.g. "default", ":0".
	Device string `yaml:"device" json:"device"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendFFmpeg,
		SampleRate:     CaptureRate,
		Channels:       1,
		BufferDuration: 256 * time.Millisecond,
		Format:         "pulse",
		Device:         "default",
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	if c.Backend == BackendFFmpeg && (c.Format == "" || c.Device == "") {
		return fmt.Errorf("ffmpeg backend needs format and device")
	}
	return nil
}

// BufferSize returns the number of samples per channel in one buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}
