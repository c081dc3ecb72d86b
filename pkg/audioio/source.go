package audioio

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrPermissionDenied means microphone access was refused.
	ErrPermissionDenied = errors.New("audioio: microphone permission denied")

	// ErrUnavailable means no usable capture device exists.
	ErrUnavailable = errors.New("audioio: capture device unavailable")
)

// Buffer is a block of float samples in [-1, 1], interleaved when
// Channels > 1.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of samples per channel.
func (b Buffer) Frames() int {
	if b.Channels <= 1 {
		return len(b.Samples)
	}
	return len(b.Samples) / b.Channels
}

// Duration returns how long the buffer plays. It is exact to the
// nanosecond floor, so consecutive durations add up without drift
// beyond one nanosecond per buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(b.Frames()) * int64(time.Second) / int64(b.SampleRate))
}

// Mono returns the buffer downmixed to one channel.
func (b Buffer) Mono() Buffer {
	if b.Channels <= 1 {
		return b
	}
	out := make([]float32, b.Frames())
	for i := range out {
		var sum float32
		for ch := 0; ch < b.Channels; ch++ {
			sum += b.Samples[i*b.Channels+ch]
		}
		out[i] = sum / float32(b.Channels)
	}
	return Buffer{Samples: out, SampleRate: b.SampleRate, Channels: 1}
}

// Source captures audio from a microphone or other input.
type Source interface {
	// Start begins capture. It blocks until the device is open, and
	// fails with ErrPermissionDenied or ErrUnavailable when it cannot be.
	Start(ctx context.Context) error

	// Stop halts capture. It is safe to call Stop multiple times.
	Stop() error

	// Read reads the next buffer, blocking if necessary.
	// Returns io.EOF when the source is stopped.
	Read(ctx context.Context) (Buffer, error)

	// Stream returns a channel that receives buffers.
	// The channel is closed when the source is stopped.
	Stream() <-chan Buffer

	// Config returns the capture configuration.
	Config() Config

	// Name returns the backend name (e.g., "ffmpeg", "ingest", "mock").
	Name() string

	// Close releases all resources.
	io.Closer
}

// SourceStats contains statistics about a source.
type SourceStats struct {
	BuffersRead int64  `json:"buffers_read"`
	SamplesRead int64  `json:"samples_read"`
	Overruns    int64  `json:"overruns"`
	Running     bool   `json:"running"`
	Backend     string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}

// readFrom implements Source.Read on top of a stream channel.
func readFrom(ctx context.Context, ch <-chan Buffer) (Buffer, error) {
	select {
	case <-ctx.Done():
		return Buffer{}, ctx.Err()
	case b, ok := <-ch:
		if !ok {
			return Buffer{}, io.EOF
		}
		return b, nil
	}
}
