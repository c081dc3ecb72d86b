// Package web serves the render surface: the eye state over a websocket,
// a small REST API, browser ingest and the WebRTC audio offer endpoint.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/amber-eyes/internal/log"
	"github.com/teslashibe/amber-eyes/pkg/expression"
	"github.com/teslashibe/amber-eyes/pkg/gaze"
	"github.com/teslashibe/amber-eyes/pkg/hub"
	"github.com/teslashibe/amber-eyes/pkg/ingest"
	"github.com/teslashibe/amber-eyes/pkg/protocol"
	"github.com/teslashibe/amber-eyes/pkg/session"
	"github.com/teslashibe/amber-eyes/pkg/stream"
)

// DefaultGazeInterval is the minimum spacing between gaze-only broadcasts.
const DefaultGazeInterval = 16 * time.Millisecond

// Session is the conversation control surface. *session.Controller implements it.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Status() session.Status
}

// Eyes is the expression state. *expression.State implements it.
type Eyes interface {
	Apply(left, right expression.Expression)
	Pair() expression.Pair
}

// Config configures the server.
type Config struct {
	Port         int
	StaticDir    string
	GazeInterval time.Duration
}

// Deps are the components the server exposes. Ingest and Peers are optional.
type Deps struct {
	Session Session
	Eyes    Eyes
	Ingest  *ingest.Hub
	Peers   *stream.Peers
}

// Server is the render surface server
type Server struct {
	app    *fiber.App
	cfg    Config
	deps   Deps
	logger *slog.Logger

	// Hub for render state broadcast
	stateHub *hub.Hub

	// State
	mu        sync.Mutex
	state     protocol.RenderState
	lastFlush time.Time
	gazeTimer *time.Timer
	baseCtx   context.Context
}

// NewServer creates the server and registers every route.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if cfg.GazeInterval <= 0 {
		cfg.GazeInterval = DefaultGazeInterval
	}
	logger = log.Or(logger).With("component", "web")

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		stateHub: hub.New("state", logger),
		baseCtx:  context.Background(),
		state: protocol.RenderState{
			ExpressionLeft:  string(expression.Neutral),
			ExpressionRight: string(expression.Neutral),
			State:           session.StateDisconnected.String(),
		},
	}
	if deps.Eyes != nil {
		s.applyPair(deps.Eyes.Pair())
	}
	if deps.Session != nil {
		s.applyStatus(deps.Session.Status())
	}

	app := fiber.New(fiber.Config{
		AppName:               "amber-eyes",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${status} ${method} ${path} ${latency}\n",
		Output: requestLog{logger},
	}))

	// API routes
	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Get("/status", s.handleStatus)
	api.Post("/session", s.handleConnect)
	api.Delete("/session", s.handleDisconnect)
	api.Get("/expressions", s.handleListExpressions)
	api.Post("/expression", s.handleSetExpression)
	api.Post("/webrtc/offer", s.handleOffer)

	// WebSocket routes
	app.Use("/ws/state", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/state", websocket.New(s.handleStateWS))

	if deps.Ingest != nil {
		deps.Ingest.RegisterRoutes(app)
		deps.Ingest.RegisterAPIRoutes(api)
	}

	// Static renderer page
	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Start listens on the configured port until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("web: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the state hub and serves HTTP on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	go s.stateHub.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listener(ln) }()
	s.logger.Info("render surface listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.gazeTimer != nil {
		s.gazeTimer.Stop()
		s.gazeTimer = nil
	}
	s.mu.Unlock()
	return s.app.ShutdownWithTimeout(5 * time.Second)
}

// State returns the current render state.
func (s *Server) State() protocol.RenderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateCopyLocked()
}

// SetExpression publishes a new expression pair.
func (s *Server) SetExpression(p expression.Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyPair(p)
	s.publishLocked()
}

// SetSession publishes a session status change.
func (s *Server) SetSession(status session.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyStatus(status)
	s.publishLocked()
}

// SetGaze records a gaze reading. Readings are coalesced: only the latest
// is sent, at most once per gaze interval.
func (s *Server) SetGaze(r gaze.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LookAt = protocol.Point{X: r.Look.X, Y: r.Look.Y}
	s.state.IsTracking = r.Present

	if s.gazeTimer != nil {
		return
	}
	wait := s.cfg.GazeInterval - time.Since(s.lastFlush)
	if wait > 0 {
		s.gazeTimer = time.AfterFunc(wait, s.flushGaze)
		return
	}
	s.publishLocked()
}

func (s *Server) flushGaze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gazeTimer == nil {
		return
	}
	s.gazeTimer = nil
	s.publishLocked()
}

// publishLocked queues the current state while s.mu is held, so the hub
// sees snapshots in the order they were taken. Broadcast never blocks.
func (s *Server) publishLocked() {
	s.lastFlush = time.Now()
	msg, err := stateMessage(s.stateCopyLocked())
	if err != nil {
		s.logger.Warn("encode render state", "err", err)
		return
	}
	s.stateHub.Broadcast(msg)
}

func (s *Server) stateCopyLocked() protocol.RenderState {
	st := s.state
	if st.Alert != nil {
		a := *st.Alert
		st.Alert = &a
	}
	return st
}

func (s *Server) applyPair(p expression.Pair) {
	s.state.ExpressionLeft = string(p.Left)
	s.state.ExpressionRight = string(p.Right)
}

func (s *Server) applyStatus(status session.Status) {
	s.state.State = status.State.String()
	s.state.IsConnected = status.State == session.StateConnected
	s.state.IsRecording = status.Recording
	s.state.Transcription = status.Transcription
	s.state.Alert = nil
	if status.Alert != nil {
		s.state.Alert = &protocol.Alert{Kind: string(status.Alert.Kind), Message: status.Alert.Message}
	}
}

func stateMessage(st protocol.RenderState) (hub.Message, error) {
	msg, err := protocol.NewStateMessage(st)
	if err != nil {
		return hub.Message{}, err
	}
	data, err := msg.Bytes()
	if err != nil {
		return hub.Message{}, err
	}
	return hub.Text(data), nil
}

// StateHub returns the render state hub for external use
func (s *Server) StateHub() *hub.Hub {
	return s.stateHub
}

func (s *Server) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

var errNotConfigured = errors.New("not configured")

// requestLog forwards fiber's access log lines to slog at debug level.
type requestLog struct{ logger *slog.Logger }

func (w requestLog) Write(p []byte) (int, error) {
	w.logger.Debug("http", "request", strings.TrimSpace(string(p)))
	return len(p), nil
}
