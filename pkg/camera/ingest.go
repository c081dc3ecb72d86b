package camera

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// Ingest is a Source fed by frames a browser pushes over the ingest
// websocket. The browser owns the camera permission prompt and reports
// a refusal with Deny.
type Ingest struct {
	box *latest

	started  atomic.Bool
	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewIngest creates an empty ingest source.
func NewIngest() *Ingest {
	return &Ingest{box: newLatest()}
}

// Name implements Source.
func (i *Ingest) Name() string { return "ingest" }

// Start implements Source. Frames may be pushed before Start; only the
// newest one is kept.
func (i *Ingest) Start(ctx context.Context) error {
	if err := i.box.error(); err != nil {
		return err
	}
	i.started.Store(true)
	go func() {
		<-ctx.Done()
		i.box.close(nil)
	}()
	return nil
}

// Frames implements Source.
func (i *Ingest) Frames() <-chan image.Image { return i.box.ch }

// Err implements Source.
func (i *Ingest) Err() error { return i.box.error() }

// Close implements Source.
func (i *Ingest) Close() error {
	i.box.close(nil)
	return nil
}

// PushImage offers a decoded frame.
func (i *Ingest) PushImage(img image.Image) error {
	if !i.box.offer(img) {
		i.dropped.Add(1)
		return ErrClosed
	}
	i.received.Add(1)
	return nil
}

// PushEncoded decodes a JPEG or PNG frame and offers it.
func (i *Ingest) PushEncoded(data []byte) error {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		i.dropped.Add(1)
		return fmt.Errorf("camera: decode frame: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		i.dropped.Add(1)
		return fmt.Errorf("camera: decode frame: empty image")
	}

	img, err := mat.ToImage()
	if err != nil {
		i.dropped.Add(1)
		return fmt.Errorf("camera: convert frame: %w", err)
	}
	return i.PushImage(img)
}

// Deny records that the browser refused camera access. The frame channel
// closes with ErrPermissionDenied.
func (i *Ingest) Deny() {
	i.box.close(ErrPermissionDenied)
}

// Stats returns received and dropped frame counts.
func (i *Ingest) Stats() (received, dropped uint64) {
	return i.received.Load(), i.dropped.Load()
}

var _ Source = (*Ingest)(nil)
