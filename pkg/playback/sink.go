package playback

import (
	"fmt"
	"sync/atomic"
)

// Sink receives every mixed frame.
type Sink interface {
	WriteFrame(frame []int16) error
	Name() string
	Close() error
}

// SinkError reports a failed frame write.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("playback: sink %s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Discard drops frames, counting them.
type Discard struct {
	frames atomic.Int64
}

// WriteFrame implements Sink.
func (d *Discard) WriteFrame(frame []int16) error {
	d.frames.Add(1)
	return nil
}

// Name implements Sink.
func (d *Discard) Name() string { return "discard" }

// Close implements Sink.
func (d *Discard) Close() error { return nil }

// Frames returns the number of frames written.
func (d *Discard) Frames() int64 { return d.frames.Load() }
