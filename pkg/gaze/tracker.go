package gaze

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/amber-eyes/internal/log"
	"github.com/teslashibe/amber-eyes/pkg/camera"
)

// Tracker runs the estimator over a camera source. It processes frames as
// fast as the source delivers them rather than on a timer.
type Tracker struct {
	source camera.Source
	est    *Estimator
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	latest    Reading
	onReading func(Reading)

	frames    atomic.Uint64
	published atomic.Uint64
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithLogger sets the tracker's logger.
func WithLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// WithNow overrides the frame timestamp source.
func WithNow(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithEstimator replaces the default estimator.
func WithEstimator(e *Estimator) TrackerOption {
	return func(t *Tracker) { t.est = e }
}

// NewTracker creates a tracker reading from source. A nil source means no
// camera: Run publishes the centered reading and returns.
func NewTracker(source camera.Source, cfg Config, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		source: source,
		now:    time.Now,
		latest: Unavailable(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.est == nil {
		t.est = NewEstimator(cfg)
	}
	t.logger = log.Or(t.logger).With("component", "gaze")
	return t
}

// OnReading registers the callback fired for every published reading.
func (t *Tracker) OnReading(fn func(Reading)) {
	t.mu.Lock()
	t.onReading = fn
	t.mu.Unlock()
}

// Latest returns the most recent reading.
func (t *Tracker) Latest() Reading {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest
}

// Stats returns processed frames and published readings.
func (t *Tracker) Stats() (frames, published uint64) {
	return t.frames.Load(), t.published.Load()
}

// Run processes frames until ctx is done or the source ends. Camera
// failures are not returned: the tracker degrades to a centered gaze with
// presence=false and stays there.
func (t *Tracker) Run(ctx context.Context) error {
	if t.source == nil {
		t.degrade(camera.ErrUnavailable)
		return nil
	}

	if err := t.source.Start(ctx); err != nil {
		t.degrade(err)
		return nil
	}
	defer t.source.Close()

	t.logger.Info("gaze tracking started", "source", t.source.Name())
	frames := t.source.Frames()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("gaze tracking stopped")
			return nil

		case frame, ok := <-frames:
			if !ok {
				if err := t.source.Err(); err != nil {
					t.degrade(err)
				}
				return nil
			}
			t.frames.Add(1)
			if reading, ok := t.est.Step(t.now(), frame); ok {
				t.publish(reading)
			}
		}
	}
}

func (t *Tracker) degrade(err error) {
	if errors.Is(err, camera.ErrPermissionDenied) {
		t.logger.Info("camera access denied, idling gaze", "err", err)
	} else {
		t.logger.Warn("camera unavailable, idling gaze", "err", err)
	}
	t.publish(Unavailable())
}

func (t *Tracker) publish(r Reading) {
	t.mu.Lock()
	t.latest = r
	fn := t.onReading
	t.mu.Unlock()

	t.published.Add(1)
	if fn != nil {
		fn(r)
	}
}
