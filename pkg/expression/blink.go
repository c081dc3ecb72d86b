package expression

import (
	"context"
	"time"
)

// StartBlinking begins the background blink cycle. Calling it while a
// cycle is running is a no-op.
//
// Each cycle waits a fresh random interval in [BlinkMin, BlinkMax). If
// neither eye is mid-blink it saves the pair, closes both eyes for
// BlinkHold and then restores the saved pair, even if something else was
// applied in between.
func (s *State) StartBlinking() {
	s.blinkMu.Lock()
	defer s.blinkMu.Unlock()
	if s.blinkStop != nil {
		return
	}
	stop := make(chan struct{})
	s.blinkStop = stop
	s.scheduleBlink(stop)
}

// StopBlinking ends the blink cycle. A blink already in progress still
// restores its saved pair.
func (s *State) StopBlinking() {
	s.blinkMu.Lock()
	defer s.blinkMu.Unlock()
	if s.blinkStop != nil {
		close(s.blinkStop)
		s.blinkStop = nil
	}
	if s.blinkTimer != nil {
		s.blinkTimer.Stop()
		s.blinkTimer = nil
	}
}

// RunBlink runs the blink cycle until ctx is done.
func (s *State) RunBlink(ctx context.Context) {
	s.StartBlinking()
	<-ctx.Done()
	s.StopBlinking()
}

// NextBlinkDelay picks the wait before the next blink.
func (s *State) NextBlinkDelay() time.Duration {
	span := s.cfg.BlinkMax - s.cfg.BlinkMin
	if span <= 0 {
		return s.cfg.BlinkMin
	}
	return s.cfg.BlinkMin + time.Duration(s.rand()*float64(span))
}

// scheduleBlink must be called with blinkMu held.
func (s *State) scheduleBlink(stop chan struct{}) {
	s.blinkTimer = s.clock.AfterFunc(s.NextBlinkDelay(), func() {
		select {
		case <-stop:
			return
		default:
		}
		s.blinkOnce()

		s.blinkMu.Lock()
		if s.blinkStop == stop {
			s.scheduleBlink(stop)
		}
		s.blinkMu.Unlock()
	})
}

func (s *State) blinkOnce() {
	s.mu.Lock()
	if s.pair.HasBlink() {
		s.mu.Unlock()
		return
	}
	saved := s.pair
	s.pair = Both(Blink)
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(Both(Blink))
	}

	s.clock.AfterFunc(s.cfg.BlinkHold, func() {
		s.Set(saved)
	})
}
