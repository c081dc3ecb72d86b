package audioio

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// IngestSource is a Source fed by audio a browser captures and pushes
// over the ingest websocket. The browser owns the permission prompt;
// Deny records a refusal.
type IngestSource struct {
	cfg Config

	mu       sync.Mutex
	running  bool
	closed   bool
	denied   bool
	streamCh chan Buffer

	buffersRead atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewIngestSource creates an ingest source delivering buffers at cfg.SampleRate.
func NewIngestSource(cfg Config) *IngestSource {
	return &IngestSource{cfg: cfg, streamCh: make(chan Buffer, 16)}
}

// Start implements Source.
func (s *IngestSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return io.ErrClosedPipe
	case s.denied:
		return ErrPermissionDenied
	case s.running:
		return nil
	}
	s.running = true
	s.streamCh = make(chan Buffer, 16)

	ch := s.streamCh
	go func() {
		<-ctx.Done()
		s.stopChannel(ch)
	}()
	return nil
}

// Push delivers captured samples at rate. They are downmixed and
// resampled to the configured rate. Buffers pushed while the source is
// not running, or faster than they are consumed, are dropped.
func (s *IngestSource) Push(b Buffer) {
	mono := b.Mono()
	if mono.SampleRate > 0 && mono.SampleRate != s.cfg.SampleRate {
		mono = Buffer{
			Samples:    Resample(mono.Samples, mono.SampleRate, s.cfg.SampleRate),
			SampleRate: s.cfg.SampleRate,
			Channels:   1,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		s.overruns.Add(1)
		return
	}
	select {
	case s.streamCh <- mono:
		s.buffersRead.Add(1)
		s.samplesRead.Add(int64(len(mono.Samples)))
	default:
		s.overruns.Add(1)
	}
}

// Deny records that the browser refused microphone access.
func (s *IngestSource) Deny() {
	s.mu.Lock()
	s.denied = true
	s.mu.Unlock()
	s.Stop()
}

// Grant clears a previous refusal.
func (s *IngestSource) Grant() {
	s.mu.Lock()
	s.denied = false
	s.mu.Unlock()
}

// Stop implements Source.
func (s *IngestSource) Stop() error {
	s.mu.Lock()
	ch := s.streamCh
	s.mu.Unlock()
	s.stopChannel(ch)
	return nil
}

func (s *IngestSource) stopChannel(ch chan Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || ch != s.streamCh {
		return
	}
	s.running = false
	close(s.streamCh)
}

// Read implements Source.
func (s *IngestSource) Read(ctx context.Context) (Buffer, error) {
	return readFrom(ctx, s.Stream())
}

// Stream implements Source.
func (s *IngestSource) Stream() <-chan Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config implements Source.
func (s *IngestSource) Config() Config { return s.cfg }

// Name implements Source.
func (s *IngestSource) Name() string { return string(BackendIngest) }

// Close implements Source.
func (s *IngestSource) Close() error {
	s.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Stats returns source statistics.
func (s *IngestSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		BuffersRead: s.buffersRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     string(BackendIngest),
	}
}

var _ SourceWithStats = (*IngestSource)(nil)
