package playback

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/amber-eyes/internal/log"
	"github.com/teslashibe/amber-eyes/pkg/audioio"
)

// Output format of the mixer.
const (
	SampleRate    = 24000
	FrameSamples  = 480 // 20ms at 24kHz
	FrameDuration = 20 * time.Millisecond
)

// Mixer is the real Output. Its clock is the number of samples rendered
// so far, so scheduled units line up sample-exactly regardless of how
// late the ticker fires.
type Mixer struct {
	logger *slog.Logger

	mu       sync.Mutex
	rendered int64
	units    map[*mixUnit]struct{}
	voices   map[*Voice]struct{}
	sinks    []Sink
	acc      []float32

	frames     atomic.Int64
	sinkErrors atomic.Int64
}

// NewMixer creates a mixer writing to sinks.
func NewMixer(logger *slog.Logger, sinks ...Sink) *Mixer {
	return &Mixer{
		logger: log.Or(logger).With("component", "mixer"),
		units:  make(map[*mixUnit]struct{}),
		voices: make(map[*Voice]struct{}),
		sinks:  sinks,
		acc:    make([]float32, FrameSamples),
	}
}

// AddSink attaches another sink. It receives frames from the next tick.
func (m *Mixer) AddSink(s Sink) {
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

// Now implements Output.
func (m *Mixer) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return samplesToDuration(m.rendered)
}

// Play implements Output. buf is downmixed and resampled to SampleRate.
// A start that a frame has already rendered past moves up to the clock,
// so the unit plays late but whole.
func (m *Mixer) Play(buf audioio.Buffer, at time.Duration, onEnded func()) (Unit, time.Duration) {
	u := &mixUnit{
		m:       m,
		samples: toMixRate(buf),
		onEnded: onEnded,
	}
	m.mu.Lock()
	u.start = max(durationToSamples(at), m.rendered)
	m.units[u] = struct{}{}
	m.mu.Unlock()
	return u, samplesToDuration(u.start)
}

// Loop adds a voice that repeats buf until stopped, scaled by gain.
// The voice starts paused.
func (m *Mixer) Loop(buf audioio.Buffer, gain float64) *Voice {
	v := &Voice{m: m, samples: toMixRate(buf), gain: float32(gain), paused: true}
	m.mu.Lock()
	m.voices[v] = struct{}{}
	m.mu.Unlock()
	return v
}

// Active returns the number of units that have not ended.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.units)
}

// Render mixes the next frame, advances the clock and fires onEnded for
// every unit that finished within it.
func (m *Mixer) Render() []int16 {
	var ended []func()

	m.mu.Lock()
	clear(m.acc)
	t0 := m.rendered
	t1 := t0 + FrameSamples

	for u := range m.units {
		end := u.start + int64(len(u.samples))
		from := max(u.start, t0)
		to := min(end, t1)
		for t := from; t < to; t++ {
			m.acc[t-t0] += u.samples[t-u.start]
		}
		if end <= t1 {
			delete(m.units, u)
			if u.onEnded != nil {
				ended = append(ended, u.onEnded)
			}
		}
	}

	for v := range m.voices {
		if v.paused || len(v.samples) == 0 {
			continue
		}
		for i := range m.acc {
			m.acc[i] += v.samples[v.pos] * v.gain
			v.pos++
			if v.pos == len(v.samples) {
				v.pos = 0
			}
		}
	}

	frame := make([]int16, FrameSamples)
	for i, s := range m.acc {
		frame[i] = audioio.FloatToInt16(s)
	}
	m.rendered = t1
	m.mu.Unlock()

	for _, f := range ended {
		f()
	}
	return frame
}

// Tick renders one frame and writes it to every sink. Sink failures are
// counted and logged, and the sink keeps receiving later frames.
func (m *Mixer) Tick() {
	frame := m.Render()
	m.frames.Add(1)

	m.mu.Lock()
	sinks := append([]Sink(nil), m.sinks...)
	m.mu.Unlock()

	for _, s := range sinks {
		if err := s.WriteFrame(frame); err != nil {
			m.sinkFailed(&SinkError{Sink: s.Name(), Err: err})
		}
	}
}

func (m *Mixer) sinkFailed(err *SinkError) {
	n := m.sinkErrors.Add(1)
	if n == 1 || n%250 == 0 {
		m.logger.Warn("sink write failed", "sink", err.Sink, "failures", n, "err", err.Err)
	}
}

// Run ticks every FrameDuration until ctx is done.
func (m *Mixer) Run(ctx context.Context) error {
	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	m.logger.Debug("mixer started", "rate", SampleRate, "frame", FrameSamples)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Stats returns frames rendered by Tick and failed sink writes.
func (m *Mixer) Stats() (frames, sinkErrors int64) {
	return m.frames.Load(), m.sinkErrors.Load()
}

// Close closes every sink.
func (m *Mixer) Close() error {
	m.mu.Lock()
	sinks := m.sinks
	m.sinks = nil
	m.mu.Unlock()

	var first error
	for _, s := range sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type mixUnit struct {
	m       *Mixer
	samples []float32
	start   int64
	onEnded func()
}

func (u *mixUnit) Stop() {
	u.m.mu.Lock()
	delete(u.m.units, u)
	u.m.mu.Unlock()
}

// Voice is a looped sound in the mix.
type Voice struct {
	m       *Mixer
	samples []float32
	pos     int
	gain    float32
	paused  bool
}

// Resume continues the voice from where it paused.
func (v *Voice) Resume() {
	v.m.mu.Lock()
	v.paused = false
	v.m.mu.Unlock()
}

// Pause silences the voice and holds its position.
func (v *Voice) Pause() {
	v.m.mu.Lock()
	v.paused = true
	v.m.mu.Unlock()
}

// Playing reports whether the voice is audible.
func (v *Voice) Playing() bool {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return !v.paused
}

// SetGain changes the voice volume.
func (v *Voice) SetGain(gain float64) {
	v.m.mu.Lock()
	v.gain = float32(gain)
	v.m.mu.Unlock()
}

// Stop removes the voice from the mix.
func (v *Voice) Stop() {
	v.m.mu.Lock()
	delete(v.m.voices, v)
	v.m.mu.Unlock()
}

func toMixRate(buf audioio.Buffer) []float32 {
	mono := buf.Mono()
	if mono.SampleRate <= 0 || mono.SampleRate == SampleRate {
		return mono.Samples
	}
	return audioio.Resample(mono.Samples, mono.SampleRate, SampleRate)
}

func samplesToDuration(n int64) time.Duration {
	return time.Duration(n * int64(time.Second) / SampleRate)
}

// durationToSamples rounds to the nearest sample.
func durationToSamples(d time.Duration) int64 {
	return (int64(d)*SampleRate + int64(time.Second)/2) / int64(time.Second)
}
