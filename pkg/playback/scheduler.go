// Package playback schedules decoded model speech back to back on a
// shared output clock and mixes it, together with looped background
// voices, into 20ms PCM frames for the speaker and WebRTC listeners.
package playback

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/amber-eyes/internal/log"
	"github.com/teslashibe/amber-eyes/pkg/audioio"
)

// Unit is one scheduled playback. Stop is safe to call more than once
// and after the unit finished.
type Unit interface {
	Stop()
}

// Output is a playback context with its own monotonic clock.
type Output interface {
	// Now is the output clock, starting at zero.
	Now() time.Duration

	// Play schedules buf to start at the given clock time, or at the
	// current clock time if at has already passed, and returns the start
	// it used. onEnded runs once when the last sample has played. It is
	// not called for units that were stopped.
	Play(buf audioio.Buffer, at time.Duration, onEnded func()) (Unit, time.Duration)
}

// Scheduler queues audio segments gaplessly on an Output. A segment
// starts at max(cursor, now) and moves the cursor to its end.
type Scheduler struct {
	out    Output
	logger *slog.Logger

	mu     sync.Mutex
	cursor time.Duration
	active map[*scheduled]struct{}

	total       atomic.Int64
	interrupted atomic.Int64
}

type scheduled struct {
	unit Unit
}

// NewScheduler creates a scheduler on out.
func NewScheduler(out Output, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		out:    out,
		logger: log.Or(logger).With("component", "playback"),
		active: make(map[*scheduled]struct{}),
	}
}

// Schedule queues buf after everything already scheduled, or now if the
// queue has drained, and returns the start time.
func (s *Scheduler) Schedule(buf audioio.Buffer) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.out.Now()
	if s.cursor > start {
		start = s.cursor
	}

	e := &scheduled{}
	e.unit, start = s.out.Play(buf, start, func() { s.finished(e) })
	s.active[e] = struct{}{}
	s.cursor = start + buf.Duration()
	s.total.Add(1)

	return start
}

func (s *Scheduler) finished(e *scheduled) {
	s.mu.Lock()
	delete(s.active, e)
	s.mu.Unlock()
}

// Interrupt stops every scheduled segment, clears the queue and resets
// the cursor. It returns how many segments were stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	units := make([]Unit, 0, len(s.active))
	for e := range s.active {
		units = append(units, e.unit)
	}
	clear(s.active)
	s.cursor = 0
	s.mu.Unlock()

	for _, u := range units {
		u.Stop()
	}
	if len(units) > 0 {
		s.interrupted.Add(int64(len(units)))
		s.logger.Debug("playback interrupted", "stopped", len(units))
	}
	return len(units)
}

// Active returns the number of scheduled segments that have not ended.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Cursor returns the end of the last scheduled segment.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Stats returns how many segments were scheduled and how many were cut
// short by Interrupt.
func (s *Scheduler) Stats() (scheduled, interrupted int64) {
	return s.total.Load(), s.interrupted.Load()
}
