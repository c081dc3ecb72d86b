package audioio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/amber-eyes/internal/log"
)

// DefaultOpenTimeout bounds how long Start waits for the first samples.
const DefaultOpenTimeout = 3 * time.Second

// FFmpegSource captures a local microphone through an ffmpeg child
// process writing raw float samples to stdout.
type FFmpegSource struct {
	cfg         Config
	logger      *slog.Logger
	binary      string
	openTimeout time.Duration

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	streamCh chan Buffer
	done     chan struct{}

	buffersRead atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewFFmpegSource creates an ffmpeg capture source. Nothing runs until Start.
func NewFFmpegSource(cfg Config, logger *slog.Logger) *FFmpegSource {
	return &FFmpegSource{
		cfg:         cfg,
		logger:      log.Or(logger).With("component", "mic", "backend", "ffmpeg"),
		binary:      "ffmpeg",
		openTimeout: DefaultOpenTimeout,
		streamCh:    make(chan Buffer, 8),
	}
}

// Args returns the ffmpeg command line used for capture.
func (s *FFmpegSource) Args() []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", s.cfg.Format,
		"-i", s.cfg.Device,
		"-ac", strconv.Itoa(s.cfg.Channels),
		"-ar", strconv.Itoa(s.cfg.SampleRate),
		"-f", "f32le",
		"pipe:1",
	}
}

// Start launches ffmpeg and waits until it delivers audio.
func (s *FFmpegSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("audioio: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, s.binary, s.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("audioio: stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: start ffmpeg: %v", ErrUnavailable, err)
	}

	reader := bufio.NewReaderSize(stdout, s.bufferBytes())
	first := make(chan error, 1)
	go func() {
		_, err := reader.Peek(4)
		first <- err
	}()

	select {
	case err := <-first:
		if err != nil {
			cancel()
			_ = cmd.Wait()
			return classifyCaptureFailure(stderr.String(), err)
		}
	case <-time.After(s.openTimeout):
		cancel()
		_ = cmd.Wait()
		return fmt.Errorf("%w: no audio within %v", ErrUnavailable, s.openTimeout)
	case <-ctx.Done():
		cancel()
		_ = cmd.Wait()
		return ctx.Err()
	}

	s.running = true
	s.cmd = cmd
	s.cancel = cancel
	s.streamCh = make(chan Buffer, 8)
	s.done = make(chan struct{})

	go s.readLoop(reader, s.streamCh, s.done)

	s.logger.Info("microphone capture started",
		"format", s.cfg.Format,
		"device", s.cfg.Device,
		"sample_rate", s.cfg.SampleRate,
	)
	return nil
}

func (s *FFmpegSource) bufferBytes() int {
	return s.cfg.BufferSize() * s.cfg.Channels * 4
}

func (s *FFmpegSource) readLoop(r io.Reader, out chan Buffer, done chan struct{}) {
	defer close(done)
	defer close(out)

	raw := make([]byte, s.bufferBytes())
	for {
		if _, err := io.ReadFull(r, raw); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Debug("capture read ended", "err", err)
			}
			s.mu.Lock()
			if out == s.streamCh {
				s.running = false
			}
			s.mu.Unlock()
			return
		}

		samples, err := Float32LE(raw)
		if err != nil {
			continue
		}
		b := Buffer{Samples: samples, SampleRate: s.cfg.SampleRate, Channels: s.cfg.Channels}

		select {
		case out <- b:
			s.buffersRead.Add(1)
			s.samplesRead.Add(int64(len(samples)))
		default:
			s.overruns.Add(1)
		}
	}
}

// classifyCaptureFailure maps ffmpeg's stderr to the capture taxonomy.
func classifyCaptureFailure(stderr string, cause error) error {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "operation not permitted"),
		strings.Contains(msg, "not authorized"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, strings.TrimSpace(stderr))
	case strings.TrimSpace(stderr) != "":
		return fmt.Errorf("%w: %s", ErrUnavailable, strings.TrimSpace(stderr))
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, cause)
	}
}

// Stop kills ffmpeg and closes the stream.
func (s *FFmpegSource) Stop() error {
	s.mu.Lock()
	cancel, cmd, done := s.cancel, s.cmd, s.done
	s.cancel, s.cmd = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	_ = cmd.Wait()
	s.logger.Info("microphone capture stopped")
	return nil
}

// Read implements Source.
func (s *FFmpegSource) Read(ctx context.Context) (Buffer, error) {
	return readFrom(ctx, s.Stream())
}

// Stream implements Source.
func (s *FFmpegSource) Stream() <-chan Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config implements Source.
func (s *FFmpegSource) Config() Config { return s.cfg }

// Name implements Source.
func (s *FFmpegSource) Name() string { return string(BackendFFmpeg) }

// Close stops capture; the source cannot be restarted.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns source statistics.
func (s *FFmpegSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		BuffersRead: s.buffersRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     string(BackendFFmpeg),
	}
}

var _ SourceWithStats = (*FFmpegSource)(nil)
