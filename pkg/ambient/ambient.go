// Package ambient plays a looped background track under the character's
// voice while a session is open.
package ambient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/teslashibe/amber-eyes/internal/httpc"
	"github.com/teslashibe/amber-eyes/internal/log"
	"github.com/teslashibe/amber-eyes/pkg/audioio"
	"github.com/teslashibe/amber-eyes/pkg/playback"
)

// DefaultURL is the track played when none is configured.
const DefaultURL = "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-17.mp3"

// DefaultVolume keeps the track well under the voice.
const DefaultVolume = 0.12

// Config configures the track.
type Config struct {
	URL    string
	Volume float64
}

// FetchFunc downloads the encoded track.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// DecodeFunc turns the encoded track into mixer-rate audio.
type DecodeFunc func(ctx context.Context, data []byte) (audioio.Buffer, error)

// Track is a lazily loaded looped mixer voice. Play and Pause never
// fail: problems are logged and the session carries on in silence.
type Track struct {
	cfg    Config
	mixer  *playback.Mixer
	logger *slog.Logger
	fetch  FetchFunc
	decode DecodeFunc

	mu      sync.Mutex
	voice   *playback.Voice
	want    bool
	loading bool
	loaded  chan struct{}
	lastErr error
}

// Option configures a Track.
type Option func(*Track)

// WithFetch replaces the HTTP download.
func WithFetch(fn FetchFunc) Option { return func(t *Track) { t.fetch = fn } }

// WithDecode replaces the ffmpeg decoder.
func WithDecode(fn DecodeFunc) Option { return func(t *Track) { t.decode = fn } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(t *Track) { t.logger = l } }

// New creates a track that plays into mixer.
func New(cfg Config, mixer *playback.Mixer, opts ...Option) *Track {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Volume <= 0 {
		cfg.Volume = DefaultVolume
	}
	t := &Track{
		cfg:    cfg,
		mixer:  mixer,
		fetch:  httpc.Fetch,
		decode: FFmpegDecode,
		loaded: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = log.Or(t.logger).With("component", "ambient")
	return t
}

// Play starts or resumes the loop. The first call downloads and decodes
// the track in the background.
func (t *Track) Play(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.want = true
	if t.voice != nil {
		t.voice.Resume()
		return
	}
	if t.loading {
		return
	}
	t.loading = true
	go t.load(context.WithoutCancel(ctx))
}

func (t *Track) load(ctx context.Context) {
	voice, err := t.prepare(ctx)

	t.mu.Lock()
	t.loading = false
	t.lastErr = err
	if err == nil {
		t.voice = voice
		if t.want {
			voice.Resume()
		}
	}
	done := t.loaded
	t.loaded = make(chan struct{})
	t.mu.Unlock()
	close(done)

	if err != nil {
		t.logger.Warn("ambient track unavailable", "url", t.cfg.URL, "err", err)
		return
	}
	t.logger.Debug("ambient track loaded", "url", t.cfg.URL, "volume", t.cfg.Volume)
}

func (t *Track) prepare(ctx context.Context) (*playback.Voice, error) {
	data, err := t.fetch(ctx, t.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	buf, err := t.decode(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(buf.Samples) == 0 {
		return nil, errors.New("decode: empty track")
	}
	return t.mixer.Loop(buf, t.cfg.Volume), nil
}

// Pause silences the loop and keeps its position.
func (t *Track) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.want = false
	if t.voice != nil {
		t.voice.Pause()
	}
}

// Playing reports whether the loop is audible.
func (t *Track) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.voice != nil && t.voice.Playing()
}

// Wait blocks until an in-flight load finishes and returns its error.
func (t *Track) Wait(ctx context.Context) error {
	t.mu.Lock()
	if !t.loading {
		err := t.lastErr
		t.mu.Unlock()
		return err
	}
	done := t.loaded
	t.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Close removes the voice from the mix.
func (t *Track) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.voice != nil {
		t.voice.Stop()
		t.voice = nil
	}
	t.want = false
}

// FFmpegDecode decodes any container ffmpeg understands into mono PCM at
// the mixer rate.
func FFmpegDecode(ctx context.Context, data []byte) (audioio.Buffer, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(playback.SampleRate),
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return audioio.Buffer{}, fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return audioio.Buffer{}, fmt.Errorf("ffmpeg: %w", err)
	}
	return audioio.FromPCM16(stdout.Bytes(), playback.SampleRate)
}
