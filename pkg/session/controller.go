// Package session runs one voice session at a time: it owns the
// microphone pump, routes model speech to the playback scheduler and
// applies the model's expression tool calls to the eyes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/amber-eyes/internal/log"
	"github.com/teslashibe/amber-eyes/pkg/audioio"
	"github.com/teslashibe/amber-eyes/pkg/conversation"
	"github.com/teslashibe/amber-eyes/pkg/expression"
	"github.com/teslashibe/amber-eyes/pkg/playback"
)

// WakeFailedMessage is the alert shown when a session cannot start.
const WakeFailedMessage = "Wake up failed."

// ErrMissingDependency is returned by New when a required collaborator is nil.
var ErrMissingDependency = errors.New("session: missing dependency")

// State is the lifecycle state of the controller.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// AlertKind classifies a user-facing alert.
type AlertKind string

const (
	AlertPermissionDenied  AlertKind = "permission_denied"
	AlertConnectionFailure AlertKind = "connection_failure"
)

// Alert is a user-facing failure notice.
type Alert struct {
	Kind    AlertKind `json:"kind"`
	Message string    `json:"message"`
}

// Player schedules decoded speech. *playback.Scheduler implements it.
type Player interface {
	Schedule(buf audioio.Buffer) time.Duration
	Interrupt() int
}

// Eyes receives expression changes. *expression.State implements it.
type Eyes interface {
	Apply(left, right expression.Expression)
	Set(p expression.Pair)
}

// Background is the ambient track. *ambient.Track implements it.
type Background interface {
	Play(ctx context.Context)
	Pause()
}

// Deps are the collaborators a Controller drives. Ambient is optional.
type Deps struct {
	Provider conversation.Provider
	Mic      audioio.Source
	Player   Player
	Eyes     Eyes
	Ambient  Background
}

// Status is a snapshot of the controller.
type Status struct {
	State             State   `json:"state"`
	SessionID         string  `json:"sessionId,omitempty"`
	Recording         bool    `json:"isRecording"`
	Transcription     string  `json:"transcription"`
	MicLevel          float64 `json:"micLevel"`
	Alert             *Alert  `json:"alert,omitempty"`
	LastError         string  `json:"lastError,omitempty"`
	ChunksSent        int64   `json:"chunksSent"`
	ChunksDropped     int64   `json:"chunksDropped"`
	SegmentsScheduled int64   `json:"segmentsScheduled"`
	SegmentsDropped   int64   `json:"segmentsDropped"`
	Interruptions     int64   `json:"interruptions"`
	ToolCalls         int64   `json:"toolCalls"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock that drives the wake sequence.
func WithClock(c expression.Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(ctl *Controller) { ctl.logger = l } }

// WithWakeSequence replaces the animation played when a session opens.
func WithWakeSequence(steps []expression.Step) Option {
	return func(ctl *Controller) { ctl.wake = steps }
}

// Controller is the session state machine
// Disconnected → Connecting → Connected → Disconnected.
// There is no automatic reconnect.
type Controller struct {
	provider conversation.Provider
	mic      audioio.Source
	player   Player
	eyes     Eyes
	ambient  Background
	encoder  *audioio.Encoder
	clock    expression.Clock
	wake     []expression.Step
	logger   *slog.Logger

	mu            sync.Mutex
	state         State
	sessionID     string
	sessLog       *slog.Logger
	alert         *Alert
	lastErr       error
	recording     bool
	transcript    strings.Builder
	turnDone      bool
	seq           *expression.Sequencer
	cancelSession context.CancelFunc
	onChange      func(Status)

	segments      atomic.Int64
	segDropped    atomic.Int64
	interruptions atomic.Int64
	toolCalls     atomic.Int64
}

// New creates a disconnected controller and registers its provider callbacks.
func New(d Deps, opts ...Option) (*Controller, error) {
	switch {
	case d.Provider == nil:
		return nil, fmt.Errorf("%w: provider", ErrMissingDependency)
	case d.Mic == nil:
		return nil, fmt.Errorf("%w: microphone", ErrMissingDependency)
	case d.Player == nil:
		return nil, fmt.Errorf("%w: player", ErrMissingDependency)
	case d.Eyes == nil:
		return nil, fmt.Errorf("%w: eyes", ErrMissingDependency)
	}

	c := &Controller{
		provider: d.Provider,
		mic:      d.Mic,
		player:   d.Player,
		eyes:     d.Eyes,
		ambient:  d.Ambient,
		clock:    expression.WallClock{},
		wake:     expression.WakeSequence,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = log.Or(c.logger).With("component", "session")
	c.sessLog = c.logger
	c.encoder = audioio.NewEncoder(c.logger)

	c.provider.OnAudio(c.handleAudio)
	c.provider.OnToolCall(c.handleToolCall)
	c.provider.OnInterruption(c.handleInterruption)
	c.provider.OnTranscript(c.handleTranscript)
	c.provider.OnTurnComplete(c.handleTurnComplete)
	c.provider.OnError(c.handleError)
	c.provider.OnClose(c.handleClose)
	return c, nil
}

// OnChange registers a callback fired after every status change.
// It runs outside the controller lock.
func (c *Controller) OnChange(fn func(Status)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	sent, dropped := c.encoder.Stats()
	st := Status{
		State:             c.state,
		SessionID:         c.sessionID,
		Recording:         c.recording,
		Transcription:     c.transcript.String(),
		MicLevel:          c.encoder.Level(),
		ChunksSent:        sent,
		ChunksDropped:     dropped,
		SegmentsScheduled: c.segments.Load(),
		SegmentsDropped:   c.segDropped.Load(),
		Interruptions:     c.interruptions.Load(),
		ToolCalls:         c.toolCalls.Load(),
	}
	if c.alert != nil {
		a := *c.alert
		st.Alert = &a
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

func (c *Controller) notify() {
	c.mu.Lock()
	fn := c.onChange
	st := c.statusLocked()
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// Connect starts the microphone, opens the provider session and plays
// the wake sequence. It is a no-op unless the controller is
// disconnected. Failures are surfaced as an alert and returned; the
// controller is back in StateDisconnected afterwards.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		st := c.state
		c.mu.Unlock()
		c.logger.Debug("connect ignored", "state", st)
		return nil
	}
	id := uuid.NewString()
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.state = StateConnecting
	c.sessionID = id
	c.sessLog = c.logger.With("session_id", id)
	c.alert = nil
	c.lastErr = nil
	c.transcript.Reset()
	c.turnDone = false
	c.cancelSession = cancel
	logger := c.sessLog
	c.mu.Unlock()
	c.notify()

	logger.Info("waking up")

	// The session context outlives ctx; a canceled caller only aborts
	// the blocking steps below.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := c.mic.Start(sessCtx); err != nil {
		c.failConnect(AlertPermissionDenied, err)
		return fmt.Errorf("session: start microphone: %w", err)
	}
	if err := c.provider.Connect(sessCtx); err != nil {
		c.mic.Stop()
		c.failConnect(AlertConnectionFailure, err)
		return fmt.Errorf("session: connect: %w", err)
	}
	if sessCtx.Err() != nil {
		c.provider.Close()
		c.mic.Stop()
		c.failConnect(AlertConnectionFailure, sessCtx.Err())
		return fmt.Errorf("session: connect: %w", context.Canceled)
	}
	c.opened(sessCtx)
	return nil
}

func (c *Controller) failConnect(kind AlertKind, err error) {
	c.mu.Lock()
	if c.cancelSession != nil {
		c.cancelSession()
		c.cancelSession = nil
	}
	c.state = StateDisconnected
	c.lastErr = err
	if !errors.Is(err, context.Canceled) {
		c.alert = &Alert{Kind: kind, Message: WakeFailedMessage}
	}
	logger := c.sessLog
	c.mu.Unlock()

	logger.Warn("wake up failed", "kind", kind, "err", err)
	c.notify()
}

func (c *Controller) opened(ctx context.Context) {
	seq := expression.NewSequencer(c.clock, c.wake, c.eyes.Set)

	c.mu.Lock()
	c.state = StateConnected
	c.seq = seq
	c.recording = true
	logger := c.sessLog
	c.mu.Unlock()

	if err := seq.Start(); err != nil {
		logger.Debug("wake sequence not started", "err", err)
	}

	// Priming chunk so the service starts listening before speech.
	if err := c.provider.SendAudio(audioio.EmptyChunk()); err != nil {
		logger.Debug("priming chunk not sent", "err", err)
	}

	c.encoder.Reset()
	go func() {
		c.encoder.Pump(ctx, c.mic, c.provider.SendAudio)
		c.mu.Lock()
		changed := c.recording && c.state == StateConnected
		if changed {
			c.recording = false
		}
		c.mu.Unlock()
		if changed {
			logger.Debug("microphone stream ended")
			c.notify()
		}
	}()

	if c.ambient != nil {
		c.ambient.Play(ctx)
	}

	logger.Info("session open")
	c.notify()
}

// Disconnect ends the current session. A pending Connect is aborted.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	st := c.state
	if st == StateConnecting && c.cancelSession != nil {
		c.cancelSession()
	}
	c.mu.Unlock()

	if st != StateConnected {
		return nil
	}
	err := c.provider.Close()
	c.teardown("disconnect")
	return err
}

// teardown returns to StateDisconnected and releases everything the
// session started. It runs once per session.
func (c *Controller) teardown(reason string) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.recording = false
	seq, cancel := c.seq, c.cancelSession
	c.seq, c.cancelSession = nil, nil
	logger := c.sessLog
	c.mu.Unlock()

	if seq != nil {
		seq.Cancel()
	}
	if cancel != nil {
		cancel()
	}
	if err := c.mic.Stop(); err != nil {
		logger.Debug("microphone stop", "err", err)
	}
	c.encoder.Reset()
	if c.ambient != nil {
		c.ambient.Pause()
	}

	sent, dropped := c.encoder.Stats()
	logger.Info("session closed",
		"reason", reason,
		"chunks_sent", sent,
		"chunks_dropped", dropped,
		"segments", c.segments.Load(),
	)
	c.notify()
}

func (c *Controller) connected() (bool, *slog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected, c.sessLog
}

func (c *Controller) handleAudio(pcm []byte) {
	ok, logger := c.connected()
	if !ok {
		return
	}
	buf, err := audioio.FromPCM16(pcm, playback.SampleRate)
	if err != nil {
		n := c.segDropped.Add(1)
		logger.Warn("dropping speech segment", "err", err, "dropped", n)
		return
	}
	c.player.Schedule(buf)
	c.segments.Add(1)
}

func (c *Controller) handleToolCall(call conversation.ToolCall) {
	ok, logger := c.connected()
	if !ok {
		return
	}
	c.toolCalls.Add(1)

	var resp map[string]any
	switch call.Name {
	case UpdateEyesTool:
		left, _ := call.StringArg("left")
		right, _ := call.StringArg("right")
		c.eyes.Apply(expression.Expression(left), expression.Expression(right))
		logger.Debug("eyes updated", "left", left, "right", right)
		resp = map[string]any{"result": ToolResultText}
	default:
		logger.Warn("unknown tool call", "name", call.Name)
		resp = map[string]any{"error": fmt.Sprintf("unknown tool %q", call.Name)}
	}

	err := c.provider.SubmitToolResult(conversation.ToolResult{
		ID:       call.ID,
		Name:     call.Name,
		Response: resp,
	})
	if err != nil {
		logger.Warn("tool result not sent", "name", call.Name, "err", err)
	}
}

func (c *Controller) handleInterruption() {
	ok, logger := c.connected()
	if !ok {
		return
	}
	c.interruptions.Add(1)
	n := c.player.Interrupt()
	c.mu.Lock()
	c.turnDone = true
	c.mu.Unlock()
	logger.Debug("interrupted", "stopped", n)
}

func (c *Controller) handleTranscript(text string, final bool) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	if c.turnDone {
		c.transcript.Reset()
		c.turnDone = false
	}
	c.transcript.WriteString(text)
	if final {
		c.turnDone = true
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) handleTurnComplete() {
	c.mu.Lock()
	c.turnDone = true
	c.mu.Unlock()
}

func (c *Controller) handleError(err error) {
	c.mu.Lock()
	c.lastErr = err
	logger := c.sessLog
	c.mu.Unlock()

	logger.Error("session error", "err", err)
	c.teardown("error")
	if err := c.provider.Close(); err != nil {
		logger.Debug("provider close", "err", err)
	}
}

func (c *Controller) handleClose() {
	c.teardown("closed")
}
