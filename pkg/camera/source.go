package camera

import (
	"context"
	"errors"
	"image"
	"sync"
)

var (
	// ErrPermissionDenied means the user or OS refused camera access.
	ErrPermissionDenied = errors.New("camera: permission denied")

	// ErrUnavailable means no usable camera could be opened or it stopped delivering frames.
	ErrUnavailable = errors.New("camera: unavailable")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("camera: closed")
)

// Source delivers video frames.
type Source interface {
	// Start acquires the camera. It fails with ErrPermissionDenied or
	// ErrUnavailable when no frames will ever arrive.
	Start(ctx context.Context) error

	// Frames returns the frame channel. It is closed when the source
	// stops; Err then reports why.
	Frames() <-chan image.Image

	// Err returns the reason the frame channel closed, nil after a clean stop.
	Err() error

	// Name identifies the source in logs.
	Name() string

	// Close releases the camera.
	Close() error
}

// latest is a one-slot frame mailbox shared by the sources. Offering a
// new frame replaces a frame nobody has picked up yet.
type latest struct {
	ch chan image.Image

	mu     sync.Mutex
	closed bool
	err    error
}

func newLatest() *latest {
	return &latest{ch: make(chan image.Image, 1)}
}

// offer publishes img, dropping a stale pending frame. It reports false
// once the mailbox is closed.
func (l *latest) offer(img image.Image) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	select {
	case <-l.ch:
	default:
	}
	l.ch <- img
	return true
}

func (l *latest) close(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.err = err
	close(l.ch)
}

func (l *latest) error() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
