package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/amber-eyes/internal/log"
)

// MockSource is a mock audio source for testing.
// It generates synthetic audio (silence or sine wave) on a ticker.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan Buffer
	stopCh   chan struct{}
	startErr error

	buffersRead atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64

	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithStartError makes Start fail, e.g. with ErrPermissionDenied.
func WithStartError(err error) MockSourceOption {
	return func(m *MockSource) { m.startErr = err }
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	m := &MockSource{
		cfg:       cfg,
		logger:    log.Or(logger),
		streamCh:  make(chan Buffer, 10),
		stopCh:    make(chan struct{}),
		amplitude: 0.5,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.startErr != nil {
		return m.startErr
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan Buffer, 10)

	go m.generateLoop(ctx, m.stopCh, m.streamCh)

	m.logger.Debug("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
	)
	return nil
}

func (m *MockSource) generateLoop(ctx context.Context, stopCh chan struct{}, out chan Buffer) {
	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.stopRun(stopCh)
			return
		case <-stopCh:
			return
		case <-ticker.C:
			b := m.generate()
			m.mu.Lock()
			// A restarted source owns a new stopCh; this loop's out may be closed.
			if !m.running || stopCh != m.stopCh {
				m.mu.Unlock()
				return
			}
			select {
			case out <- b:
				m.buffersRead.Add(1)
				m.samplesRead.Add(int64(len(b.Samples)))
			default:
				m.overruns.Add(1)
			}
			m.mu.Unlock()
		}
	}
}

func (m *MockSource) generate() Buffer {
	size := m.cfg.BufferSize()
	samples := make([]float32, size*m.cfg.Channels)

	if m.frequency > 0 {
		for i := 0; i < size; i++ {
			v := float32(m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = v
			}
			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}

	return Buffer{Samples: samples, SampleRate: m.cfg.SampleRate, Channels: m.cfg.Channels}
}

// Stop halts audio generation.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	ch := m.stopCh
	m.mu.Unlock()
	m.stopRun(ch)
	return nil
}

// stopRun ends the run that owns stopCh. It is a no-op once a later
// Start has replaced it.
func (m *MockSource) stopRun(stopCh chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || stopCh != m.stopCh {
		return
	}
	m.running = false
	close(m.stopCh)
	close(m.streamCh)
}

// Read reads the next buffer.
func (m *MockSource) Read(ctx context.Context) (Buffer, error) {
	return readFrom(ctx, m.Stream())
}

// Stream returns the buffer channel.
func (m *MockSource) Stream() <-chan Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCh
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config { return m.cfg }

// Name returns "mock".
func (m *MockSource) Name() string { return "mock" }

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		BuffersRead: m.buffersRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    m.overruns.Load(),
		Running:     running,
		Backend:     string(BackendMock),
	}
}

var _ SourceWithStats = (*MockSource)(nil)
