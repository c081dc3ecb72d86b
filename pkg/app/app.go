// Package app wires the camera, microphone, conversation session,
// expression state and render surface into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/teslashibe/amber-eyes/internal/config"
	"github.com/teslashibe/amber-eyes/internal/log"
	"github.com/teslashibe/amber-eyes/pkg/ambient"
	"github.com/teslashibe/amber-eyes/pkg/audioio"
	"github.com/teslashibe/amber-eyes/pkg/camera"
	"github.com/teslashibe/amber-eyes/pkg/conversation"
	"github.com/teslashibe/amber-eyes/pkg/expression"
	"github.com/teslashibe/amber-eyes/pkg/gaze"
	"github.com/teslashibe/amber-eyes/pkg/ingest"
	"github.com/teslashibe/amber-eyes/pkg/playback"
	"github.com/teslashibe/amber-eyes/pkg/protocol"
	"github.com/teslashibe/amber-eyes/pkg/session"
	"github.com/teslashibe/amber-eyes/pkg/stream"
	"github.com/teslashibe/amber-eyes/pkg/web"
)

// App owns every long-lived component.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// Eyes
	eyes    *expression.State
	tracker *gaze.Tracker
	frames  *camera.Ingest

	// Voice
	mic         audioio.Source
	micIngest   *audioio.IngestSource
	mixer       *playback.Mixer
	scheduler   *playback.Scheduler
	broadcaster *stream.Broadcaster
	peers       *stream.Peers
	ambient     *ambient.Track
	provider    conversation.Provider
	session     *session.Controller

	// Surface
	ingest *ingest.Hub
	web    *web.Server

	shutdownOnce sync.Once
}

// Option configures an App.
type Option func(*options)

type options struct {
	provider conversation.Provider
	mic      audioio.Source
	camera   camera.Source
	sinks    []playback.Sink
}

// WithProvider replaces the provider built from the session config.
func WithProvider(p conversation.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithMicrophone replaces the configured capture source.
func WithMicrophone(src audioio.Source) Option {
	return func(o *options) { o.mic = src }
}

// WithCamera replaces the configured frame source.
func WithCamera(src camera.Source) Option {
	return func(o *options) { o.camera = src }
}

// WithSinks replaces the configured playback sinks.
func WithSinks(sinks ...playback.Sink) Option {
	return func(o *options) { o.sinks = sinks }
}

// New validates cfg and builds every component. Nothing runs until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		logger: log.Or(logger),
		ingest: ingest.NewHub(logger),
	}

	a.eyes = expression.New(expression.Config{
		RevertAfter:       cfg.Expression.RevertAfter,
		CancelStaleRevert: cfg.Expression.CancelStaleRevert,
		BlinkMin:          cfg.Expression.BlinkMin,
		BlinkMax:          cfg.Expression.BlinkMax,
		BlinkHold:         cfg.Expression.BlinkHold,
	}, expression.WithLogger(logger))

	a.initCamera(o.camera)

	if err := a.initAudio(o.mic, o.sinks); err != nil {
		return nil, fmt.Errorf("audio init: %w", err)
	}

	provider := o.provider
	if provider == nil {
		var err error
		if provider, err = NewProvider(cfg.Session, logger); err != nil {
			return nil, fmt.Errorf("provider init: %w", err)
		}
	}
	a.provider = provider

	deps := session.Deps{
		Provider: provider,
		Mic:      a.mic,
		Player:   a.scheduler,
		Eyes:     a.eyes,
	}
	if a.ambient != nil {
		deps.Ambient = a.ambient
	}
	ctl, err := session.New(deps, session.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("session init: %w", err)
	}
	a.session = ctl

	a.web = web.NewServer(web.Config{
		Port:      cfg.Web.Port,
		StaticDir: cfg.Web.StaticDir,
	}, web.Deps{
		Session: ctl,
		Eyes:    a.eyes,
		Ingest:  a.ingest,
		Peers:   a.peers,
	}, logger)

	a.wire()
	return a, nil
}

// NewProvider builds the conversation provider named by cfg.Provider.
func NewProvider(cfg config.SessionConfig, logger *slog.Logger) (conversation.Provider, error) {
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = session.DefaultSystemPrompt
	}
	opts := []conversation.Option{
		conversation.WithAPIKey(cfg.APIKey),
		conversation.WithModel(cfg.Model),
		conversation.WithVoice(cfg.Voice),
		conversation.WithSystemPrompt(prompt),
		conversation.WithOutputTranscription(true),
		conversation.WithTools(session.EyesTool()),
		conversation.WithLogger(log.Or(logger)),
	}
	if cfg.VertexProject != "" {
		opts = append(opts, conversation.WithVertex(cfg.VertexProject, cfg.VertexLocation))
	}

	switch cfg.Provider {
	case "gemini":
		return conversation.NewGeminiLive(opts...)
	case "genai":
		return conversation.NewGenAI(opts...)
	case "mock":
		return conversation.NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func (a *App) initCamera(override camera.Source) {
	var src camera.Source
	switch {
	case override != nil:
		src = override
	case a.cfg.Camera.Backend == "gocv":
		cc := camera.DefaultConfig()
		cc.Device = a.cfg.Camera.Device
		cc.Width = a.cfg.Camera.Width
		cc.Height = a.cfg.Camera.Height
		cc.Framerate = a.cfg.Camera.FPS
		src = camera.NewDevice(cc, a.logger)
	case a.cfg.Camera.Backend == "ingest":
		a.frames = camera.NewIngest()
		src = a.frames
	}
	// A nil source leaves the tracker idling with presence=false.
	a.tracker = gaze.NewTracker(src, gaze.DefaultConfig(), gaze.WithLogger(a.logger))
}

func (a *App) initAudio(mic audioio.Source, sinks []playback.Sink) error {
	if mic == nil {
		ac := audioio.DefaultConfig()
		ac.Format = a.cfg.Audio.InputFormat
		ac.Device = a.cfg.Audio.InputDevice
		switch a.cfg.Audio.Input {
		case "ffmpeg":
			src, err := audioio.NewSource(ac, a.logger)
			if err != nil {
				return err
			}
			mic = src
		case "ingest":
			ac.Backend = audioio.BackendIngest
			a.micIngest = audioio.NewIngestSource(ac)
			mic = a.micIngest
		default:
			ac.Backend = audioio.BackendMock
			mic = audioio.NewMockSource(ac, a.logger, audioio.WithSineWave(0, 0))
		}
	}
	a.mic = mic

	if sinks == nil {
		if slices.Contains(a.cfg.Audio.Outputs, "speaker") {
			sinks = append(sinks, playback.NewSpeaker(a.logger))
		}
		if slices.Contains(a.cfg.Audio.Outputs, "webrtc") {
			a.broadcaster = stream.NewBroadcaster()
			a.peers = stream.NewPeers(a.broadcaster, stream.WithLogger(a.logger))
			sinks = append(sinks, a.broadcaster)
		}
		if len(sinks) == 0 {
			sinks = append(sinks, &playback.Discard{})
		}
	}
	a.mixer = playback.NewMixer(a.logger, sinks...)
	a.scheduler = playback.NewScheduler(a.mixer, a.logger)

	if a.cfg.Ambient.Enabled {
		a.ambient = ambient.New(ambient.Config{
			URL:    a.cfg.Ambient.URL,
			Volume: a.cfg.Ambient.Volume,
		}, a.mixer, ambient.WithLogger(a.logger))
	}
	return nil
}

// wire connects component callbacks to the render surface and routes
// browser ingest into the sources.
func (a *App) wire() {
	a.eyes.OnChange(a.web.SetExpression)
	a.tracker.OnReading(a.web.SetGaze)
	a.session.OnChange(a.web.SetSession)

	a.ingest.OnFrame(a.handleFrame)
	a.ingest.OnMic(a.handleMic)
	a.ingest.OnPermission(a.handlePermission)
}

func (a *App) handleFrame(_ string, frame *protocol.FrameData) error {
	if a.frames == nil {
		return errors.New("camera ingest disabled")
	}
	data, err := frame.DecodeFrameData()
	if err != nil {
		return err
	}
	return a.frames.PushEncoded(data)
}

func (a *App) handleMic(_ string, mic *protocol.MicData) error {
	if a.micIngest == nil {
		return errors.New("microphone ingest disabled")
	}
	buf, err := decodeMic(mic)
	if err != nil {
		return err
	}
	a.micIngest.Push(buf)
	return nil
}

func (a *App) handlePermission(_ string, p *protocol.PermissionData) error {
	switch p.Device {
	case protocol.DeviceCamera:
		if a.frames != nil && !p.Granted {
			a.frames.Deny()
		}
	case protocol.DeviceMicrophone:
		if a.micIngest == nil {
			return nil
		}
		if p.Granted {
			a.micIngest.Grant()
		} else {
			a.micIngest.Deny()
		}
	}
	return nil
}

func decodeMic(mic *protocol.MicData) (audioio.Buffer, error) {
	raw, err := mic.DecodeMicData()
	if err != nil {
		return audioio.Buffer{}, err
	}
	var buf audioio.Buffer
	switch mic.Format {
	case protocol.FormatF32:
		samples, err := audioio.Float32LE(raw)
		if err != nil {
			return audioio.Buffer{}, err
		}
		buf = audioio.Buffer{Samples: samples, SampleRate: mic.SampleRate}
	default:
		if buf, err = audioio.FromPCM16(raw, mic.SampleRate); err != nil {
			return audioio.Buffer{}, err
		}
	}
	buf.Channels = mic.Channels
	return buf, nil
}

// Run starts every background loop and serves the render surface until
// ctx is done. It connects the session first when autoConnect is set.
func (a *App) Run(ctx context.Context, autoConnect bool) error {
	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				a.logger.Warn("component stopped", "component", name, "err", err)
			}
		}()
	}

	start("mixer", a.mixer.Run)
	start("gaze", a.tracker.Run)
	start("blink", func(ctx context.Context) error {
		a.eyes.RunBlink(ctx)
		return nil
	})

	if autoConnect {
		go func() {
			if err := a.session.Connect(ctx); err != nil {
				a.logger.Warn("initial connect failed", "err", err)
			}
		}()
	}

	a.logger.Info("amber-eyes running",
		"port", a.cfg.Web.Port,
		"camera", a.cfg.Camera.Backend,
		"audio_input", a.cfg.Audio.Input,
		"provider", a.cfg.Session.Provider,
	)
	err := a.web.Start(ctx)

	wg.Wait()
	return err
}

// Shutdown disconnects the session and releases every device.
func (a *App) Shutdown() error {
	var errs []error
	a.shutdownOnce.Do(func() {
		if err := a.session.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("session: %w", err))
		}
		if a.ambient != nil {
			a.ambient.Close()
		}
		if a.peers != nil {
			if err := a.peers.Close(); err != nil {
				errs = append(errs, fmt.Errorf("webrtc: %w", err))
			}
		}
		if err := a.mixer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mixer: %w", err))
		}
		if err := a.mic.Close(); err != nil {
			errs = append(errs, fmt.Errorf("microphone: %w", err))
		}
		a.eyes.Close()
		a.logger.Info("amber-eyes stopped")
	})
	return errors.Join(errs...)
}

// Session returns the session controller.
func (a *App) Session() *session.Controller { return a.session }

// Eyes returns the expression state.
func (a *App) Eyes() *expression.State { return a.eyes }

// Web returns the render surface server.
func (a *App) Web() *web.Server { return a.web }

// Tracker returns the gaze tracker.
func (a *App) Tracker() *gaze.Tracker { return a.tracker }
