package playback

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/amber-eyes/pkg/audioio"
)

// fakeOutput records Play calls and lets tests end units by hand.
type fakeOutput struct {
	mu    sync.Mutex
	now   time.Duration
	late  time.Duration // clock movement between Now and Play
	units []*fakeUnit
}

type fakeUnit struct {
	at      time.Duration
	onEnded func()
	stops   int
}

func (u *fakeUnit) Stop() { u.stops++ }

func (o *fakeOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) Play(buf audioio.Buffer, at time.Duration, onEnded func()) (Unit, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	at = max(at, o.now+o.late)
	u := &fakeUnit{at: at, onEnded: onEnded}
	o.units = append(o.units, u)
	return u, at
}

func (o *fakeOutput) set(now time.Duration) {
	o.mu.Lock()
	o.now = now
	o.mu.Unlock()
}

func seconds(sec float64, rate int) audioio.Buffer {
	return audioio.Buffer{Samples: make([]float32, int(sec*float64(rate))), SampleRate: rate, Channels: 1}
}

func TestScheduleBackToBack(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out, nil)

	want := []time.Duration{0, time.Second, 2 * time.Second}
	for i, w := range want {
		if got := s.Schedule(seconds(1, 24000)); got != w {
			t.Errorf("segment %d starts at %v, want %v", i, got, w)
		}
	}
	if s.Cursor() != 3*time.Second {
		t.Errorf("Cursor() = %v, want 3s", s.Cursor())
	}
	if s.Active() != 3 {
		t.Errorf("Active() = %d, want 3", s.Active())
	}
}

func TestScheduleAfterDrainStartsNow(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out, nil)

	s.Schedule(seconds(0.5, 24000))
	out.set(5 * time.Second)

	if got := s.Schedule(seconds(0.5, 24000)); got != 5*time.Second {
		t.Errorf("start = %v, want 5s", got)
	}
	if s.Cursor() != 5500*time.Millisecond {
		t.Errorf("Cursor() = %v, want 5.5s", s.Cursor())
	}
}

func TestNaturalEndLeavesActiveSet(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out, nil)

	s.Schedule(seconds(1, 24000))
	s.Schedule(seconds(1, 24000))

	out.units[0].onEnded()
	if s.Active() != 1 {
		t.Fatalf("Active() = %d, want 1", s.Active())
	}
	out.units[1].onEnded()
	if s.Active() != 0 {
		t.Fatalf("Active() = %d, want 0", s.Active())
	}
	// Cursor is untouched by natural ends.
	if s.Cursor() != 2*time.Second {
		t.Errorf("Cursor() = %v, want 2s", s.Cursor())
	}
}

func TestInterrupt(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out, nil)

	for i := 0; i < 3; i++ {
		s.Schedule(seconds(1, 24000))
	}
	out.units[0].onEnded()

	if n := s.Interrupt(); n != 2 {
		t.Errorf("Interrupt() = %d, want 2", n)
	}
	if out.units[0].stops != 0 {
		t.Error("finished unit was stopped")
	}
	for _, u := range out.units[1:] {
		if u.stops != 1 {
			t.Errorf("unit stopped %d times, want 1", u.stops)
		}
	}
	if s.Cursor() != 0 || s.Active() != 0 {
		t.Errorf("after Interrupt cursor=%v active=%d", s.Cursor(), s.Active())
	}

	// A second interrupt finds nothing to stop.
	if n := s.Interrupt(); n != 0 {
		t.Errorf("second Interrupt() = %d, want 0", n)
	}

	out.set(1200 * time.Millisecond)
	if got := s.Schedule(seconds(1, 24000)); got != 1200*time.Millisecond {
		t.Errorf("post-interrupt start = %v, want now", got)
	}

	sched, interrupted := s.Stats()
	if sched != 4 || interrupted != 2 {
		t.Errorf("Stats() = %d/%d, want 4/2", sched, interrupted)
	}
}

func constant(v float32, n, rate int) audioio.Buffer {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return audioio.Buffer{Samples: samples, SampleRate: rate, Channels: 1}
}

func TestMixerClockAdvancesPerFrame(t *testing.T) {
	m := NewMixer(nil)
	for i := 1; i <= 3; i++ {
		m.Render()
		if got := m.Now(); got != time.Duration(i)*FrameDuration {
			t.Fatalf("after %d frames Now() = %v", i, got)
		}
	}
}

func TestMixerPlaysAndEnds(t *testing.T) {
	m := NewMixer(nil)
	ended := 0
	m.Play(constant(0.5, FrameSamples, SampleRate), 0, func() { ended++ })

	frame := m.Render()
	for i, v := range frame {
		if v != 16384 {
			t.Fatalf("frame[%d] = %d, want 16384", i, v)
		}
	}
	if ended != 1 || m.Active() != 0 {
		t.Errorf("ended=%d active=%d after full frame", ended, m.Active())
	}

	frame = m.Render()
	if frame[0] != 0 || ended != 1 {
		t.Errorf("second frame = %d, ended = %d", frame[0], ended)
	}
}

func TestMixerStartsAtOffset(t *testing.T) {
	m := NewMixer(nil)
	m.Play(constant(0.5, FrameSamples, SampleRate), 10*time.Millisecond, nil)

	frame := m.Render()
	if frame[239] != 0 || frame[240] != 16384 {
		t.Errorf("frame[239]=%d frame[240]=%d, want 0 and 16384", frame[239], frame[240])
	}
	if m.Active() != 1 {
		t.Fatal("unit ended before its last sample")
	}
	frame = m.Render()
	if frame[239] != 16384 || frame[240] != 0 {
		t.Errorf("frame[239]=%d frame[240]=%d, want 16384 and 0", frame[239], frame[240])
	}
	if m.Active() != 0 {
		t.Error("unit still active")
	}
}

func TestMixerLateStartPlaysWhole(t *testing.T) {
	m := NewMixer(nil)
	m.Render()

	_, start := m.Play(constant(0.5, FrameSamples, SampleRate), 0, nil)
	if start != FrameDuration {
		t.Fatalf("start = %v, want clamped to %v", start, FrameDuration)
	}
	frame := m.Render()
	for i, v := range frame {
		if v != 16384 {
			t.Fatalf("frame[%d] = %d, want every sample of the late unit", i, v)
		}
	}
	if m.Active() != 0 {
		t.Error("late unit still active after its full length")
	}
}

func TestSchedulerTakesOutputStart(t *testing.T) {
	out := &fakeOutput{late: 50 * time.Millisecond}
	s := NewScheduler(out, nil)

	if got := s.Schedule(seconds(1, 24000)); got != 50*time.Millisecond {
		t.Errorf("start = %v, want 50ms", got)
	}
	if got := s.Cursor(); got != 1050*time.Millisecond {
		t.Errorf("cursor = %v, want 1.05s", got)
	}
}

func TestMixerSumsAndClips(t *testing.T) {
	m := NewMixer(nil)
	m.Play(constant(0.25, FrameSamples, SampleRate), 0, nil)
	m.Play(constant(0.25, FrameSamples, SampleRate), 0, nil)
	if v := m.Render()[0]; v != 16384 {
		t.Errorf("0.25+0.25 = %d, want 16384", v)
	}

	m.Play(constant(0.8, FrameSamples, SampleRate), m.Now(), nil)
	m.Play(constant(0.8, FrameSamples, SampleRate), m.Now(), nil)
	if v := m.Render()[0]; v != 32767 {
		t.Errorf("0.8+0.8 = %d, want clipped 32767", v)
	}
}

func TestMixerStopSuppressesOnEnded(t *testing.T) {
	m := NewMixer(nil)
	ended := false

	u, _ := m.Play(constant(0.5, FrameSamples, SampleRate), 40*time.Millisecond, func() { ended = true })
	u.Stop()
	u.Stop()

	for i := 0; i < 4; i++ {
		if v := m.Render()[FrameSamples-1]; v != 0 {
			t.Fatalf("stopped unit audible in frame %d", i)
		}
	}
	if ended {
		t.Error("onEnded fired for a stopped unit")
	}
}

func TestMixerResamplesInput(t *testing.T) {
	m := NewMixer(nil)
	ended := false
	// 20ms at 16kHz becomes exactly one mixer frame.
	m.Play(constant(0.5, 320, 16000), 0, func() { ended = true })
	m.Render()
	if !ended {
		t.Error("resampled unit did not end within one frame")
	}
}

func TestVoiceLoopsWithGain(t *testing.T) {
	m := NewMixer(nil)
	v := m.Loop(audioio.Buffer{Samples: []float32{1, 0, 0}, SampleRate: SampleRate, Channels: 1}, 0.5)

	if m.Render()[0] != 0 {
		t.Fatal("paused voice is audible")
	}

	v.Resume()
	frame := m.Render()
	for i := 0; i < 9; i++ {
		want := int16(0)
		if i%3 == 0 {
			want = 16384
		}
		if frame[i] != want {
			t.Fatalf("frame[%d] = %d, want %d", i, frame[i], want)
		}
	}

	// 480 is a multiple of 3, so a paused voice resumes on the same phase.
	v.Pause()
	m.Render()
	v.Resume()
	if m.Render()[0] != 16384 {
		t.Error("voice lost its position across pause")
	}

	v.SetGain(0.25)
	if m.Render()[0] != 8192 {
		t.Error("gain change not applied")
	}

	v.Stop()
	if m.Render()[0] != 0 {
		t.Error("stopped voice is audible")
	}
}

type failingSink struct {
	writes int
}

func (f *failingSink) WriteFrame([]int16) error {
	f.writes++
	return errors.New("broken pipe")
}
func (f *failingSink) Name() string { return "failing" }
func (f *failingSink) Close() error { return nil }

func TestTickSwallowsSinkErrors(t *testing.T) {
	bad := &failingSink{}
	good := &Discard{}
	m := NewMixer(nil, bad, good)

	for i := 0; i < 3; i++ {
		m.Tick()
	}
	if bad.writes != 3 {
		t.Errorf("failing sink got %d writes, want 3", bad.writes)
	}
	if good.Frames() != 3 {
		t.Errorf("discard got %d frames, want 3", good.Frames())
	}
	frames, sinkErrors := m.Stats()
	if frames != 3 || sinkErrors != 3 {
		t.Errorf("Stats() = %d/%d, want 3/3", frames, sinkErrors)
	}
}

func TestSinkErrorUnwraps(t *testing.T) {
	cause := errors.New("closed")
	var err error = &SinkError{Sink: "speaker", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("SinkError does not unwrap")
	}
}

func TestSchedulerOnMixer(t *testing.T) {
	m := NewMixer(nil)
	s := NewScheduler(m, nil)

	// 30ms segments back to back: 0-30ms and 30-60ms.
	if start := s.Schedule(constant(0.5, 720, SampleRate)); start != 0 {
		t.Fatalf("first start = %v", start)
	}
	if start := s.Schedule(constant(0.25, 720, SampleRate)); start != 30*time.Millisecond {
		t.Fatalf("second start = %v", start)
	}

	m.Render() // 0-20ms
	frame := m.Render()
	if frame[239] != 16384 || frame[240] != 8192 {
		t.Errorf("boundary samples %d, %d", frame[239], frame[240])
	}
	if s.Active() != 1 {
		t.Errorf("Active() = %d after first segment ended", s.Active())
	}
	m.Render()
	if s.Active() != 0 {
		t.Errorf("Active() = %d after both ended", s.Active())
	}

	s.Schedule(constant(0.5, 4800, SampleRate))
	m.Render()
	if n := s.Interrupt(); n != 1 {
		t.Errorf("Interrupt() = %d", n)
	}
	if m.Active() != 0 || m.Render()[0] != 0 {
		t.Error("interrupted audio still playing")
	}
}

func TestSpeakerArgs(t *testing.T) {
	joined := strings.Join(NewSpeaker(nil).Args(), " ")
	if !strings.HasSuffix(joined, "-f s16le -ar 24000 -ch_layout mono -i -") {
		t.Errorf("args = %q", joined)
	}
}
