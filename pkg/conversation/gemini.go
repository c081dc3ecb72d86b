package conversation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2/google"

	"github.com/teslashibe/amber-eyes/pkg/audioio"
)

const (
	geminiLiveURL      = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	vertexLiveURL      = "wss://%s-aiplatform.googleapis.com/ws/google.cloud.aiplatform.v1beta1.LlmBidiService/BidiGenerateContent"
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
)

// GeminiLive implements Provider on the raw BidiGenerateContent
// websocket protocol.
type GeminiLive struct {
	handlers

	config *Config
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	state   ConnectionState
	done    chan struct{}
	writeMu sync.Mutex

	connectedAt      atomic.Int64
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	audioBytes       atomic.Int64
	toolCalls        atomic.Int64
	decodeErrors     atomic.Int64
}

// NewGeminiLive creates a Gemini Live provider. Either an API key or a
// Vertex project is required.
func NewGeminiLive(opts ...Option) (*GeminiLive, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &GeminiLive{
		config: cfg,
		logger: cfg.Logger.With("component", "conversation.gemini"),
		state:  StateDisconnected,
	}, nil
}

// endpoint resolves the websocket URL, auth headers and qualified model name.
func (g *GeminiLive) endpoint(ctx context.Context) (string, http.Header, string, error) {
	headers := http.Header{}
	cfg := g.config

	if cfg.UseVertex() {
		ts := cfg.TokenSource
		if ts == nil {
			var err error
			ts, err = google.DefaultTokenSource(ctx, cloudPlatformScope)
			if err != nil {
				return "", nil, "", NewConnectionError("find default credentials", err, false)
			}
		}
		tok, err := ts.Token()
		if err != nil {
			return "", nil, "", NewConnectionError("fetch access token", err, true)
		}
		tok.SetAuthHeader(&http.Request{Header: headers})

		u := cfg.BaseURL
		if u == "" {
			u = fmt.Sprintf(vertexLiveURL, cfg.VertexLocation)
		}
		model := fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s",
			cfg.VertexProject, cfg.VertexLocation, cfg.Model)
		return u, headers, model, nil
	}

	u := cfg.BaseURL
	if u == "" {
		u = geminiLiveURL
	}
	return u + "?key=" + url.QueryEscape(cfg.APIKey), headers, "models/" + cfg.Model, nil
}

// Connect dials Gemini Live, sends setup and waits for setupComplete.
func (g *GeminiLive) Connect(ctx context.Context) error {
	g.mu.Lock()
	if g.state != StateDisconnected {
		g.mu.Unlock()
		return ErrAlreadyConnected
	}
	g.state = StateConnecting
	g.mu.Unlock()

	conn, err := g.open(ctx)
	if err != nil {
		g.mu.Lock()
		g.state = StateDisconnected
		g.mu.Unlock()
		return err
	}

	done := make(chan struct{})
	g.mu.Lock()
	g.conn = conn
	g.state = StateConnected
	g.done = done
	g.mu.Unlock()
	g.connectedAt.Store(time.Now().UnixNano())

	go g.readLoop(conn, done)

	g.logger.Info("connected to Gemini Live", "model", g.config.Model, "vertex", g.config.UseVertex())
	return nil
}

func (g *GeminiLive) open(ctx context.Context) (*websocket.Conn, error) {
	u, headers, model, err := g.endpoint(ctx)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: g.config.Timeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	g.logger.Info("connecting to Gemini Live", "model", g.config.Model)

	conn, resp, err := dialer.DialContext(ctx, u, headers)
	if err != nil {
		if resp != nil {
			return nil, NewConnectionError(
				fmt.Sprintf("dial failed with status %d", resp.StatusCode),
				err,
				resp.StatusCode >= 500,
			)
		}
		return nil, NewConnectionError("dial failed", err, true)
	}

	// Unblock the setup read if ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	setup := clientMessage{Setup: buildSetup(model, g.config.SessionOptions())}
	_ = conn.SetWriteDeadline(time.Now().Add(g.config.WriteTimeout))
	if err := conn.WriteJSON(setup); err != nil {
		conn.Close()
		return nil, NewConnectionError("send setup failed", err, true)
	}
	g.messagesSent.Add(1)

	_ = conn.SetReadDeadline(time.Now().Add(g.config.Timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, NewConnectionError("setup cancelled", ctx.Err(), false)
		}
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return nil, NewConnectionError(fmt.Sprintf("setup closed by server (%d)", closeErr.Code), err, false)
		}
		return nil, NewConnectionError("await setupComplete", err, true)
	}
	g.messagesReceived.Add(1)

	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.SetupComplete == nil {
		conn.Close()
		return nil, NewConnectionError("unexpected setup reply", ErrSetupRejected, false)
	}
	return conn, nil
}

// Close gracefully closes the session. OnClose fires from the read loop.
func (g *GeminiLive) Close() error {
	g.mu.Lock()
	conn := g.conn
	g.conn = nil
	g.state = StateDisconnected
	g.mu.Unlock()

	if conn == nil {
		return nil
	}

	g.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	g.writeMu.Unlock()
	conn.Close()

	g.logger.Info("disconnected from Gemini Live")
	return nil
}

// IsConnected returns true if connected.
func (g *GeminiLive) IsConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state == StateConnected
}

// SendAudio sends one microphone chunk as realtime input.
func (g *GeminiLive) SendAudio(chunk audioio.Chunk) error {
	mime := chunk.MIMEType
	if mime == "" {
		mime = audioio.CaptureMIMEType
	}
	return g.write(clientMessage{RealtimeInput: &realtimeInputMessage{
		MediaChunks: []inlineData{{MIMEType: mime, Data: chunk.Data}},
	}})
}

// SubmitToolResult answers a function call.
func (g *GeminiLive) SubmitToolResult(result ToolResult) error {
	err := g.write(clientMessage{ToolResponse: &toolResponseMessage{
		FunctionResponses: []functionResponse{{
			ID:       result.ID,
			Name:     result.Name,
			Response: result.Response,
		}},
	}})
	if err != nil {
		return err
	}
	g.logger.Debug("submitted tool result", "call_id", result.ID, "name", result.Name)
	return nil
}

func (g *GeminiLive) write(msg clientMessage) error {
	g.mu.RLock()
	conn := g.conn
	state := g.state
	g.mu.RUnlock()

	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	g.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(g.config.WriteTimeout))
	err := conn.WriteJSON(msg)
	g.writeMu.Unlock()

	if err != nil {
		return NewConnectionError("write failed", err, true)
	}
	g.messagesSent.Add(1)
	return nil
}

// Capabilities returns provider capabilities.
func (g *GeminiLive) Capabilities() Capabilities {
	return Capabilities{
		SupportsToolCalls:     true,
		SupportsInterruption:  true,
		SupportsTranscription: true,
		InputSampleRate:       g.config.InputSampleRate,
		OutputSampleRate:      g.config.OutputSampleRate,
		SupportedModels:       []string{DefaultModel},
	}
}

// Metrics returns a snapshot of session statistics.
func (g *GeminiLive) Metrics() Metrics {
	m := Metrics{
		MessagesSent:       g.messagesSent.Load(),
		MessagesReceived:   g.messagesReceived.Load(),
		AudioBytesReceived: g.audioBytes.Load(),
		ToolCallsReceived:  g.toolCalls.Load(),
		DecodeErrors:       g.decodeErrors.Load(),
	}
	if ns := g.connectedAt.Load(); ns != 0 {
		m.ConnectionTime = time.Unix(0, ns)
	}
	return m
}

// readLoop processes incoming messages until the connection ends.
func (g *GeminiLive) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		g.mu.Lock()
		if g.conn == conn {
			g.conn = nil
			g.state = StateDisconnected
		}
		g.mu.Unlock()
		close(done)
		g.emitClose()
	}()

	for {
		var deadline time.Time
		if g.config.ReadTimeout > 0 {
			deadline = time.Now().Add(g.config.ReadTimeout)
		}
		_ = conn.SetReadDeadline(deadline)

		_, data, err := conn.ReadMessage()
		if err != nil {
			g.mu.RLock()
			local := g.conn != conn
			g.mu.RUnlock()

			switch {
			case local:
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				g.logger.Info("connection closed by server")
			default:
				g.logger.Error("read error", "error", err)
				g.emitError(NewConnectionError("read failed", err, true))
			}
			return
		}

		g.messagesReceived.Add(1)
		g.handleMessage(data)
	}
}

// handleMessage dispatches one server message.
func (g *GeminiLive) handleMessage(data []byte) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		g.decodeErrors.Add(1)
		g.logger.Warn("failed to parse message", "error", &DecodeError{Field: "message", Cause: err})
		return
	}

	if msg.ToolCall != nil {
		for _, fc := range msg.ToolCall.FunctionCalls {
			g.toolCalls.Add(1)
			g.logger.Info("tool call received", "name", fc.Name, "call_id", fc.ID)
			args := fc.Args
			if args == nil {
				args = map[string]any{}
			}
			g.emitToolCall(ToolCall{ID: fc.ID, Name: fc.Name, Args: args})
		}
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil || p.InlineData.Data == "" {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					g.decodeErrors.Add(1)
					g.logger.Warn("dropping audio part", "error", &DecodeError{Field: "inlineData", Cause: err})
					continue
				}
				g.audioBytes.Add(int64(len(pcm)))
				g.emitAudio(pcm)
			}
		}
		if sc.Interrupted {
			g.logger.Debug("model interrupted")
			g.emitInterruption()
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			g.emitTranscript(sc.OutputTranscription.Text, sc.OutputTranscription.Finished)
		}
		if sc.TurnComplete {
			g.emitTurnComplete()
		}
	}

	if msg.GoAway != nil {
		g.logger.Warn("server going away", "time_left", msg.GoAway.TimeLeft)
	}
}

// Ensure GeminiLive implements Provider.
var _ Provider = (*GeminiLive)(nil)
