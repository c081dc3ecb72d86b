package camera

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/amber-eyes/internal/log"
)

// Device captures frames from a local camera through OpenCV.
type Device struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	capture *gocv.VideoCapture
	box     *latest
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDevice creates a device source. Nothing is opened until Start.
func NewDevice(cfg Config, logger *slog.Logger) *Device {
	return &Device{
		cfg:    cfg,
		logger: log.Or(logger).With("component", "camera", "device", cfg.Device),
		box:    newLatest(),
	}
}

// Name implements Source.
func (d *Device) Name() string { return fmt.Sprintf("gocv:%d", d.cfg.Device) }

// Start opens the capture device and begins reading frames.
func (d *Device) Start(ctx context.Context) error {
	if errs := d.cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("camera: invalid config: %v", errs)
	}

	capture, err := gocv.OpenVideoCapture(d.cfg.Device)
	if err != nil {
		return fmt.Errorf("%w: open device %d: %v", ErrUnavailable, d.cfg.Device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		// OpenCV reports denied and missing devices the same way.
		return fmt.Errorf("%w: device %d did not open", ErrPermissionDenied, d.cfg.Device)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(d.cfg.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(d.cfg.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(d.cfg.Framerate))

	runCtx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.capture = capture
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mu.Unlock()

	d.logger.Info("camera opened", "width", d.cfg.Width, "height", d.cfg.Height, "fps", d.cfg.Framerate)
	go d.readLoop(runCtx, capture)
	return nil
}

// Frames implements Source.
func (d *Device) Frames() <-chan image.Image { return d.box.ch }

// Err implements Source.
func (d *Device) Err() error { return d.box.error() }

// Close stops reading and releases the device.
func (d *Device) Close() error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		d.box.close(nil)
		return nil
	}
	cancel()
	<-done
	return nil
}

func (d *Device) readLoop(ctx context.Context, capture *gocv.VideoCapture) {
	defer close(d.done)
	defer capture.Close()

	mat := gocv.NewMat()
	defer mat.Close()

	misses := 0
	for {
		if ctx.Err() != nil {
			d.box.close(nil)
			return
		}

		if ok := capture.Read(&mat); !ok || mat.Empty() {
			misses++
			if misses >= d.cfg.MaxMisses {
				d.logger.Warn("camera stopped delivering frames", "misses", misses)
				d.box.close(ErrUnavailable)
				return
			}
			continue
		}
		misses = 0

		// ToImage converts OpenCV's BGR layout to RGBA.
		img, err := mat.ToImage()
		if err != nil {
			d.logger.Debug("frame conversion failed", "err", err)
			continue
		}
		d.box.offer(img)
	}
}

var _ Source = (*Device)(nil)
