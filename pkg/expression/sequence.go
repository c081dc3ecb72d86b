package expression

import (
	"slices"
	"sync"
	"time"
)

// Step is one entry of a scripted sequence: show Pair at offset At from
// the start of the sequence.
type Step struct {
	At   time.Duration
	Pair Pair
}

// WakeSequence is the local animation played when a session opens.
var WakeSequence = []Step{
	{At: 200 * time.Millisecond, Pair: Both(Tiny)},
	{At: 800 * time.Millisecond, Pair: Both(Surprised)},
	{At: 1400 * time.Millisecond, Pair: Both(Joyful)},
	{At: 2200 * time.Millisecond, Pair: Both(Neutral)},
}

// Sequencer plays an ordered list of steps with a single timer, so the
// whole sequence has one cancellation point.
type Sequencer struct {
	clock Clock
	steps []Step
	apply func(Pair)

	mu       sync.Mutex
	timer    Timer
	started  bool
	canceled bool
	next     int
	done     chan struct{}
}

// NewSequencer builds a sequencer over steps, sorted by offset.
// apply is called for each step on the clock's callback goroutine.
func NewSequencer(clock Clock, steps []Step, apply func(Pair)) *Sequencer {
	sorted := slices.Clone(steps)
	slices.SortStableFunc(sorted, func(a, b Step) int {
		switch {
		case a.At < b.At:
			return -1
		case a.At > b.At:
			return 1
		}
		return 0
	})
	if clock == nil {
		clock = WallClock{}
	}
	return &Sequencer{
		clock: clock,
		steps: sorted,
		apply: apply,
		done:  make(chan struct{}),
	}
}

// Start begins playback. A sequencer runs at most once.
func (q *Sequencer) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return ErrSequenceRunning
	}
	q.started = true
	if len(q.steps) == 0 {
		close(q.done)
		return nil
	}
	q.scheduleLocked(q.steps[0].At)
	return nil
}

// Cancel stops the remaining steps. Safe to call at any time, repeatedly.
func (q *Sequencer) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.canceled {
		return
	}
	q.canceled = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.finishLocked()
}

// Done is closed when the last step has run or the sequence was canceled.
func (q *Sequencer) Done() <-chan struct{} { return q.done }

// Remaining returns the number of steps not yet applied.
func (q *Sequencer) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.canceled {
		return 0
	}
	return len(q.steps) - q.next
}

func (q *Sequencer) scheduleLocked(delay time.Duration) {
	q.timer = q.clock.AfterFunc(delay, q.fire)
}

func (q *Sequencer) fire() {
	q.mu.Lock()
	if q.canceled || q.next >= len(q.steps) {
		q.mu.Unlock()
		return
	}
	step := q.steps[q.next]
	q.next++
	if q.next < len(q.steps) {
		q.scheduleLocked(q.steps[q.next].At - step.At)
	} else {
		q.timer = nil
		q.finishLocked()
	}
	q.mu.Unlock()

	if q.apply != nil {
		q.apply(step.Pair)
	}
}

func (q *Sequencer) finishLocked() {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}
