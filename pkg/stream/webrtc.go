package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/amber-eyes/internal/log"
	"github.com/teslashibe/amber-eyes/pkg/playback"
)

// DefaultBitrate suits a single speech voice over a quiet music bed.
const DefaultBitrate = 48000

// ErrClosed is returned when negotiating on a closed Peers.
var ErrClosed = errors.New("stream: closed")

// FrameEncoder compresses one PCM frame. *opus.Encoder implements it.
type FrameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// EncoderFactory creates one encoder per peer.
type EncoderFactory func() (FrameEncoder, error)

// OpusEncoder returns a factory of mono voice encoders at the mixer rate.
func OpusEncoder(bitrate int) EncoderFactory {
	return func() (FrameEncoder, error) {
		enc, err := opus.NewEncoder(playback.SampleRate, 1, opus.AppVoIP)
		if err != nil {
			return nil, fmt.Errorf("stream: opus encoder: %w", err)
		}
		if bitrate > 0 {
			if err := enc.SetBitrate(bitrate); err != nil {
				return nil, fmt.Errorf("stream: opus bitrate: %w", err)
			}
		}
		return enc, nil
	}
}

// Peers negotiates WebRTC listeners and streams the broadcaster to each.
type Peers struct {
	broadcaster *Broadcaster
	newEncoder  EncoderFactory
	config      webrtc.Configuration
	logger      *slog.Logger

	mu     sync.Mutex
	peers  map[*webrtc.PeerConnection]*Listener
	closed bool
}

// PeersOption configures Peers.
type PeersOption func(*Peers)

// WithEncoder replaces the opus encoder factory.
func WithEncoder(f EncoderFactory) PeersOption { return func(p *Peers) { p.newEncoder = f } }

// WithICEServers sets STUN/TURN URLs.
func WithICEServers(urls ...string) PeersOption {
	return func(p *Peers) {
		if len(urls) > 0 {
			p.config.ICEServers = []webrtc.ICEServer{{URLs: urls}}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) PeersOption { return func(p *Peers) { p.logger = l } }

// NewPeers creates a WebRTC handler fed by b.
func NewPeers(b *Broadcaster, opts ...PeersOption) *Peers {
	p := &Peers{
		broadcaster: b,
		newEncoder:  OpusEncoder(DefaultBitrate),
		peers:       make(map[*webrtc.PeerConnection]*Listener),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = log.Or(p.logger).With("component", "webrtc")
	return p
}

// PeerCount returns the number of active WebRTC peers.
func (p *Peers) PeerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

// Answer accepts an SDP offer, adds an opus track fed by the broadcaster
// and returns the answer once ICE gathering is complete.
func (p *Peers) Answer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	enc, err := p.newEncoder()
	if err != nil {
		return nil, err
	}

	pc, err := webrtc.NewPeerConnection(p.config)
	if err != nil {
		return nil, fmt.Errorf("stream: create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		"amber-eyes",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("stream: create audio track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, fmt.Errorf("stream: add track: %w", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("stream: set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("stream: create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("stream: set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	listener := p.broadcaster.Subscribe()

	p.mu.Lock()
	p.peers[pc] = listener
	n := len(p.peers)
	p.mu.Unlock()
	p.logger.Info("peer connected", "peers", n)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			if p.remove(pc) {
				pc.Close()
				p.logger.Info("peer disconnected", "state", s.String(), "peers", p.PeerCount())
			}
		}
	})

	go func() {
		Pump(listener, enc, track.WriteSample, p.logger)
		if p.remove(pc) {
			pc.Close()
		}
	}()

	return pc.LocalDescription(), nil
}

func (p *Peers) remove(pc *webrtc.PeerConnection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.peers[pc]
	if !ok {
		return false
	}
	delete(p.peers, pc)
	p.broadcaster.Unsubscribe(l)
	return true
}

// Close hangs up every peer and refuses new offers.
func (p *Peers) Close() error {
	p.mu.Lock()
	p.closed = true
	pcs := make([]*webrtc.PeerConnection, 0, len(p.peers))
	for pc, l := range p.peers {
		pcs = append(pcs, pc)
		p.broadcaster.Unsubscribe(l)
	}
	p.peers = make(map[*webrtc.PeerConnection]*Listener)
	p.mu.Unlock()

	var errs []error
	for _, pc := range pcs {
		errs = append(errs, pc.Close())
	}
	return errors.Join(errs...)
}

// Pump encodes frames from l and writes them as samples until the
// listener stops or a write fails. Encode errors skip the frame.
func Pump(l *Listener, enc FrameEncoder, write func(media.Sample) error, logger *slog.Logger) {
	logger = log.Or(logger)
	buf := make([]byte, 4000)
	for {
		select {
		case <-l.done:
			return
		case frame, ok := <-l.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, buf)
			if err != nil {
				logger.Debug("opus encode failed", "err", err)
				continue
			}
			err = write(media.Sample{
				Data:     append([]byte(nil), buf[:n]...),
				Duration: frameDuration(len(frame)),
			})
			if err != nil {
				logger.Debug("peer write failed", "err", err)
				return
			}
		}
	}
}

func frameDuration(samples int) time.Duration {
	if samples == playback.FrameSamples {
		return playback.FrameDuration
	}
	return time.Duration(samples) * time.Second / playback.SampleRate
}
