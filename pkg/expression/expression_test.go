package expression

import (
	"context"
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestState(cfg Config) (*State, *ManualClock) {
	clock := NewManualClock(epoch)
	s := New(cfg, WithClock(clock), WithRand(func() float64 { return 0 }))
	return s, clock
}

func TestParse(t *testing.T) {
	tests := []struct {
		in    string
		want  Expression
		valid bool
	}{
		{"happy", Happy, true},
		{" Joyful ", Joyful, true},
		{"BLINK", Blink, true},
		{"furious", Expression("furious"), false},
		{"", Expression(""), false},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.in)
		if got != tt.want || ok != tt.valid {
			t.Errorf("Parse(%q) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.valid)
		}
	}
	if len(All) != 13 || len(Names()) != 13 {
		t.Errorf("expected 13 expressions, got %d", len(All))
	}
}

func TestApplyRevertsAfterSevenSeconds(t *testing.T) {
	s, clock := newTestState(DefaultConfig())

	s.Apply(Happy, Happy)
	if got := s.Pair(); got != Both(Happy) {
		t.Fatalf("after apply pair = %v", got)
	}

	clock.Advance(6999 * time.Millisecond)
	if got := s.Pair(); got != Both(Happy) {
		t.Errorf("at 6999ms pair = %v, want happy/happy", got)
	}

	clock.Advance(time.Millisecond)
	if got := s.Pair(); got != Both(Neutral) {
		t.Errorf("at 7000ms pair = %v, want neutral/neutral", got)
	}
	if n := s.PendingReverts(); n != 0 {
		t.Errorf("pending reverts = %d, want 0", n)
	}
}

func TestApplyNeutralOrBlinkArmsNoRevert(t *testing.T) {
	tests := []struct {
		name        string
		left, right Expression
	}{
		{"neutral pair", Neutral, Neutral},
		{"blink left", Blink, Happy},
		{"blink right", Sad, Blink},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, clock := newTestState(DefaultConfig())
			s.Apply(tt.left, tt.right)
			if n := s.PendingReverts(); n != 0 {
				t.Fatalf("pending reverts = %d, want 0", n)
			}
			clock.Advance(10 * time.Second)
			if got := s.Pair(); got != (Pair{tt.left, tt.right}) {
				t.Errorf("pair changed to %v", got)
			}
		})
	}
}

func TestStaleRevertFiresUnconditionally(t *testing.T) {
	s, clock := newTestState(DefaultConfig())

	s.Apply(Happy, Happy)
	clock.Advance(3 * time.Second)
	s.Apply(Sad, Angry)
	if got := s.Pair(); got != (Pair{Sad, Angry}) {
		t.Fatalf("last write should win, got %v", got)
	}

	// The first revert still fires at t=7s.
	clock.Advance(4 * time.Second)
	if got := s.Pair(); got != Both(Neutral) {
		t.Errorf("at 7s pair = %v, want neutral (stale revert)", got)
	}
	if n := s.PendingReverts(); n != 1 {
		t.Errorf("pending reverts = %d, want 1", n)
	}
}

func TestCancelStaleRevert(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CancelStaleRevert = true
	s, clock := newTestState(cfg)

	s.Apply(Happy, Happy)
	clock.Advance(3 * time.Second)
	s.Apply(Sad, Angry)

	clock.Advance(4 * time.Second)
	if got := s.Pair(); got != (Pair{Sad, Angry}) {
		t.Errorf("at 7s pair = %v, want sad/angry", got)
	}
	clock.Advance(3 * time.Second)
	if got := s.Pair(); got != Both(Neutral) {
		t.Errorf("at 10s pair = %v, want neutral", got)
	}
}

func TestApplyPassesInvalidTagsThrough(t *testing.T) {
	s, _ := newTestState(DefaultConfig())
	s.Apply("sparkly", Happy)
	if got := s.Pair().Left; got != "sparkly" {
		t.Errorf("left = %q, want sparkly", got)
	}
}

func TestBlinkCycle(t *testing.T) {
	s, clock := newTestState(DefaultConfig())
	s.Apply(Love, Love)

	var mu sync.Mutex
	var seen []Pair
	s.OnChange(func(p Pair) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})

	s.StartBlinking()
	defer s.StopBlinking()

	// rand returns 0 so the first blink is due at exactly BlinkMin.
	clock.Advance(4999 * time.Millisecond)
	if got := s.Pair(); got != Both(Love) {
		t.Fatalf("before blink pair = %v", got)
	}
	clock.Advance(time.Millisecond)
	if got := s.Pair(); got != Both(Blink) {
		t.Fatalf("at 5s pair = %v, want blink", got)
	}
	clock.Advance(250 * time.Millisecond)
	if got := s.Pair(); got != Both(Love) {
		t.Fatalf("after hold pair = %v, want love restored", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != Both(Blink) || seen[1] != Both(Love) {
		t.Errorf("change sequence = %v", seen)
	}
}

func TestBlinkRestoresSavedPairOverRevert(t *testing.T) {
	s, clock := newTestState(DefaultConfig())
	s.Apply(Happy, Happy) // revert due at 7s

	clock.Advance(2 * time.Second)
	s.StartBlinking() // first blink at 7s, same instant as the revert
	defer s.StopBlinking()

	clock.Advance(5 * time.Second)
	// Revert was armed first so it fires first, then the blink saves neutral.
	if got := s.Pair(); got != Both(Blink) {
		t.Fatalf("at 7s pair = %v, want blink", got)
	}
	clock.Advance(250 * time.Millisecond)
	if got := s.Pair(); got != Both(Neutral) {
		t.Errorf("after blink pair = %v, want neutral", got)
	}
}

func TestBlinkSkippedWhileBlinking(t *testing.T) {
	s, clock := newTestState(DefaultConfig())
	s.Apply(Blink, Happy)
	s.StartBlinking()
	defer s.StopBlinking()

	clock.Advance(5 * time.Second)
	if got := s.Pair(); got != (Pair{Blink, Happy}) {
		t.Errorf("pair = %v, blink should be skipped", got)
	}
}

func TestNextBlinkDelayRange(t *testing.T) {
	for _, r := range []float64{0, 0.25, 0.5, 0.999} {
		s := New(DefaultConfig(), WithRand(func() float64 { return r }))
		d := s.NextBlinkDelay()
		if d < 5*time.Second || d >= 8*time.Second {
			t.Errorf("rand %.3f: delay %v outside [5s,8s)", r, d)
		}
	}
}

func TestStopBlinking(t *testing.T) {
	s, clock := newTestState(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunBlink(ctx)
		close(done)
	}()
	cancel()
	<-done

	clock.Advance(time.Minute)
	if got := s.Pair(); got != Both(Neutral) {
		t.Errorf("pair = %v after stop, want neutral", got)
	}
}

func TestWakeSequence(t *testing.T) {
	clock := NewManualClock(epoch)
	var got []Pair
	q := NewSequencer(clock, WakeSequence, func(p Pair) { got = append(got, p) })
	if err := q.Start(); err != nil {
		t.Fatal(err)
	}
	if err := q.Start(); err != ErrSequenceRunning {
		t.Errorf("second Start = %v, want ErrSequenceRunning", err)
	}

	checks := []struct {
		advance time.Duration
		want    int
	}{
		{199 * time.Millisecond, 0},
		{1 * time.Millisecond, 1},
		{600 * time.Millisecond, 2},
		{600 * time.Millisecond, 3},
		{799 * time.Millisecond, 3},
		{1 * time.Millisecond, 4},
	}
	for i, c := range checks {
		clock.Advance(c.advance)
		if len(got) != c.want {
			t.Fatalf("check %d: %d steps applied, want %d", i, len(got), c.want)
		}
	}

	want := []Pair{Both(Tiny), Both(Surprised), Both(Joyful), Both(Neutral)}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d = %v, want %v", i, got[i], want[i])
		}
	}
	select {
	case <-q.Done():
	default:
		t.Error("Done not closed after last step")
	}
}

func TestSequencerCancel(t *testing.T) {
	clock := NewManualClock(epoch)
	var got []Pair
	q := NewSequencer(clock, WakeSequence, func(p Pair) { got = append(got, p) })
	_ = q.Start()

	clock.Advance(900 * time.Millisecond)
	q.Cancel()
	q.Cancel()

	clock.Advance(5 * time.Second)
	if len(got) != 2 {
		t.Errorf("applied %d steps, want 2 before cancel", len(got))
	}
	if q.Remaining() != 0 {
		t.Errorf("remaining = %d, want 0", q.Remaining())
	}
	if clock.Pending() != 0 {
		t.Errorf("clock still has %d timers", clock.Pending())
	}
	<-q.Done()
}

func TestSequencerSortsSteps(t *testing.T) {
	clock := NewManualClock(epoch)
	var got []Pair
	q := NewSequencer(clock, []Step{
		{At: 300 * time.Millisecond, Pair: Both(Sad)},
		{At: 100 * time.Millisecond, Pair: Both(Happy)},
	}, func(p Pair) { got = append(got, p) })
	_ = q.Start()
	clock.Advance(time.Second)
	if len(got) != 2 || got[0] != Both(Happy) || got[1] != Both(Sad) {
		t.Errorf("order = %v", got)
	}
}
