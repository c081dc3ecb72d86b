// Package stream fans the mixed output out to remote listeners over
// WebRTC as 20ms opus frames.
package stream

import (
	"sync"
	"sync/atomic"
)

// ListenerBuffer is how many frames a listener may fall behind before
// frames are dropped for it (~3 seconds at 20ms/frame).
const ListenerBuffer = 150

// Broadcaster fans out PCM frames from the mixer to N listeners. It is a
// playback.Sink.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	closed    bool

	frames  atomic.Int64
	dropped atomic.Int64
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C    chan []int16 // buffered channel of 20ms PCM frames
	done chan struct{}
	once sync.Once
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

func (l *Listener) stop() { l.once.Do(func() { close(l.done) }) }

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener. Returns a Listener that receives frames.
// Subscribing to a closed broadcaster returns an already stopped listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, ListenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		l.stop()
		return l
	}
	b.listeners[l] = struct{}{}
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.stop()
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// WriteFrame implements playback.Sink. Slow listeners get frames dropped
// rather than blocking the mixer. The frame is shared read-only.
func (b *Broadcaster) WriteFrame(frame []int16) error {
	b.frames.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		select {
		case l.C <- frame:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Name implements playback.Sink.
func (b *Broadcaster) Name() string { return "webrtc" }

// Close implements playback.Sink. It stops every listener.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	ls := b.listeners
	b.listeners = make(map[*Listener]struct{})
	b.closed = true
	b.mu.Unlock()

	for l := range ls {
		l.stop()
	}
	return nil
}

// Stats returns frames received and per-listener drops.
func (b *Broadcaster) Stats() (frames, dropped int64) {
	return b.frames.Load(), b.dropped.Load()
}
