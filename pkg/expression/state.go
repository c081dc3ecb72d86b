package expression

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/teslashibe/amber-eyes/internal/log"
)

// Config tunes the expression state machine.
type Config struct {
	// RevertAfter is how long an agent-applied expression holds before
	// both sides are forced back to neutral.
	RevertAfter time.Duration

	// CancelStaleRevert makes each Apply stop reverts armed by earlier
	// Apply calls. When false (the default) every armed revert fires
	// unconditionally, even if a newer expression was applied since.
	CancelStaleRevert bool

	// BlinkMin and BlinkMax bound the random wait between blinks, [min, max).
	BlinkMin time.Duration
	BlinkMax time.Duration

	// BlinkHold is how long both eyes stay closed.
	BlinkHold time.Duration
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		RevertAfter: 7 * time.Second,
		BlinkMin:    5 * time.Second,
		BlinkMax:    8 * time.Second,
		BlinkHold:   250 * time.Millisecond,
	}
}

// Option configures a State.
type Option func(*State)

// WithClock sets the clock used for reverts and blinks.
func WithClock(c Clock) Option {
	return func(s *State) { s.clock = c }
}

// WithRand sets the [0,1) source used to pick blink intervals.
func WithRand(f func() float64) Option {
	return func(s *State) { s.rand = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *State) { s.logger = l }
}

// State is the current expression pair plus its pending timers.
type State struct {
	cfg    Config
	clock  Clock
	rand   func() float64
	logger *slog.Logger

	mu       sync.Mutex
	pair     Pair
	reverts  map[Timer]struct{}
	onChange func(Pair)

	blinkMu    sync.Mutex
	blinkStop  chan struct{}
	blinkTimer Timer
}

// New creates a State showing neutral/neutral.
func New(cfg Config, opts ...Option) *State {
	s := &State{
		cfg:     cfg,
		clock:   WallClock{},
		rand:    rand.Float64,
		pair:    Both(Neutral),
		reverts: make(map[Timer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.Or(s.logger)
	return s
}

// OnChange registers the callback fired after every pair change.
// It runs outside the state lock.
func (s *State) OnChange(fn func(Pair)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Pair returns the current pair.
func (s *State) Pair() Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pair
}

// PendingReverts returns how many revert timers are armed.
func (s *State) PendingReverts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reverts)
}

// Apply sets the pair as requested by the agent. Unless the new pair is
// neutral/neutral or either side is blink, a revert to neutral is armed.
// Tags are not validated.
func (s *State) Apply(left, right Expression) {
	p := Pair{Left: left, Right: right}

	s.mu.Lock()
	if s.cfg.CancelStaleRevert {
		s.stopRevertsLocked()
	}
	s.pair = p
	if !p.IsNeutral() && !p.HasBlink() && s.cfg.RevertAfter > 0 {
		s.armRevertLocked()
	}
	fn := s.onChange
	s.mu.Unlock()

	s.logger.Debug("expression applied", "pair", p.String())
	if fn != nil {
		fn(p)
	}
}

// Set replaces the pair without arming a revert. Scripted sequences use it.
func (s *State) Set(p Pair) {
	s.mu.Lock()
	s.pair = p
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(p)
	}
}

// Close stops pending reverts and the blink cycle.
func (s *State) Close() {
	s.StopBlinking()
	s.mu.Lock()
	s.stopRevertsLocked()
	s.mu.Unlock()
}

// armRevertLocked schedules the unconditional revert. The callback takes
// s.mu before reading t, so it always sees the assigned handle.
func (s *State) armRevertLocked() {
	var t Timer
	t = s.clock.AfterFunc(s.cfg.RevertAfter, func() {
		s.mu.Lock()
		if _, armed := s.reverts[t]; !armed {
			s.mu.Unlock()
			return
		}
		delete(s.reverts, t)
		s.pair = Both(Neutral)
		fn := s.onChange
		s.mu.Unlock()

		s.logger.Debug("expression reverted to neutral")
		if fn != nil {
			fn(Both(Neutral))
		}
	})
	s.reverts[t] = struct{}{}
}

func (s *State) stopRevertsLocked() {
	for t := range s.reverts {
		t.Stop()
		delete(s.reverts, t)
	}
}
