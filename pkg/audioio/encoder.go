package audioio

import (
	"context"
	"encoding/base64"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/amber-eyes/internal/log"
)

// Wire format of outbound microphone audio.
const (
	CaptureRate     = 16000
	ChunkSamples    = 4096 // 256ms at 16kHz
	CaptureMIMEType = "audio/pcm;rate=16000"
)

// Chunk is one transport-ready block of microphone audio.
type Chunk struct {
	// Data is the base64 encoding of PCM. Empty for the priming chunk.
	Data string `json:"data"`

	// MIMEType declares the PCM layout and rate.
	MIMEType string `json:"mimeType"`

	// PCM is the little-endian 16-bit payload behind Data.
	PCM []byte `json:"-"`

	// Samples is the number of samples in PCM.
	Samples int `json:"-"`
}

// EmptyChunk returns the no-op chunk sent right after a session opens.
func EmptyChunk() Chunk {
	return Chunk{MIMEType: CaptureMIMEType}
}

// IsEmpty reports whether the chunk carries no audio.
func (c Chunk) IsEmpty() bool { return c.Samples == 0 }

// EncodeChunk converts 16kHz mono float samples into a Chunk.
func EncodeChunk(samples []float32) Chunk {
	pcm := ToPCM16(samples)
	return Chunk{
		Data:     base64.StdEncoding.EncodeToString(pcm),
		MIMEType: CaptureMIMEType,
		PCM:      pcm,
		Samples:  len(samples),
	}
}

// Encoder reframes captured audio into fixed ChunkSamples blocks at
// CaptureRate and pushes them to a transport without buffering: a chunk
// the transport refuses is dropped.
type Encoder struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending []float32

	sent    atomic.Int64
	dropped atomic.Int64
	level   atomic.Uint64 // float64 bits of the last chunk's RMS
}

// NewEncoder creates an encoder.
func NewEncoder(logger *slog.Logger) *Encoder {
	return &Encoder{logger: log.Or(logger).With("component", "capture")}
}

// Write adds a captured buffer and returns every complete chunk.
// Partial blocks are held for the next call.
func (e *Encoder) Write(b Buffer) []Chunk {
	mono := b.Mono()
	rate := mono.SampleRate
	if rate <= 0 {
		rate = CaptureRate
	}
	samples := Resample(mono.Samples, rate, CaptureRate)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending = append(e.pending, samples...)
	var out []Chunk
	for len(e.pending) >= ChunkSamples {
		block := e.pending[:ChunkSamples]
		e.level.Store(math.Float64bits(CalculateRMS(block)))
		out = append(out, EncodeChunk(block))
		e.pending = e.pending[ChunkSamples:]
	}
	if len(e.pending) == 0 {
		e.pending = nil
	}
	return out
}

// Reset discards any partial block.
func (e *Encoder) Reset() {
	e.mu.Lock()
	e.pending = nil
	e.mu.Unlock()
	e.level.Store(0)
}

// Pump reads src until ctx is done or the source stops, sending each
// chunk as soon as it is complete. Send failures drop the chunk.
func (e *Encoder) Pump(ctx context.Context, src Source, send func(Chunk) error) {
	stream := src.Stream()
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-stream:
			if !ok {
				return
			}
			for _, c := range e.Write(b) {
				e.deliver(c, send)
			}
		}
	}
}

func (e *Encoder) deliver(c Chunk, send func(Chunk) error) {
	if err := send(c); err != nil {
		n := e.dropped.Add(1)
		if n == 1 || n%50 == 0 {
			e.logger.Debug("dropping microphone chunk", "dropped", n, "err", err)
		}
		return
	}
	e.sent.Add(1)
}

// Stats returns sent and dropped chunk counts.
func (e *Encoder) Stats() (sent, dropped int64) {
	return e.sent.Load(), e.dropped.Load()
}

// Level returns the RMS level of the most recent chunk, 0 after Reset.
func (e *Encoder) Level() float64 {
	return math.Float64frombits(e.level.Load())
}
