package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/teslashibe/amber-eyes/pkg/audioio"
)

// GenAI implements Provider on the google.golang.org/genai Live client.
type GenAI struct {
	handlers

	config *Config
	logger *slog.Logger

	mu      sync.RWMutex
	session *genai.Session
	state   ConnectionState
	sendMu  sync.Mutex

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	audioBytes       atomic.Int64
	toolCalls        atomic.Int64
}

// NewGenAI creates an SDK-backed provider.
func NewGenAI(opts ...Option) (*GenAI, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &GenAI{
		config: cfg,
		logger: cfg.Logger.With("component", "conversation.genai"),
		state:  StateDisconnected,
	}, nil
}

func (g *GenAI) clientConfig() *genai.ClientConfig {
	if g.config.UseVertex() {
		return &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  g.config.VertexProject,
			Location: g.config.VertexLocation,
		}
	}
	return &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  g.config.APIKey,
	}
}

// LiveConfig converts session options to the SDK's connect config.
func LiveConfig(opts SessionOptions) (*genai.LiveConnectConfig, error) {
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if opts.SystemPrompt != "" {
		lc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: opts.SystemPrompt}}}
	}
	if opts.Voice != "" {
		lc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: opts.Voice},
			},
		}
	}
	if opts.OutputTranscription {
		lc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if len(opts.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			schema, err := toSchema(t.Parameters)
			if err != nil {
				return nil, fmt.Errorf("tool %s: %w", t.Name, err)
			}
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			})
		}
		lc.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return lc, nil
}

// toSchema maps a JSON schema object onto genai.Schema through its JSON form.
func toSchema(params map[string]any) (*genai.Schema, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var s genai.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Connect opens a Live session and waits for setupComplete.
func (g *GenAI) Connect(ctx context.Context) error {
	g.mu.Lock()
	if g.state != StateDisconnected {
		g.mu.Unlock()
		return ErrAlreadyConnected
	}
	g.state = StateConnecting
	g.mu.Unlock()

	session, err := g.open(ctx)
	if err != nil {
		g.mu.Lock()
		g.state = StateDisconnected
		g.mu.Unlock()
		return err
	}

	g.mu.Lock()
	g.session = session
	g.state = StateConnected
	g.mu.Unlock()

	go g.receiveLoop(session)

	g.logger.Info("connected to Gemini Live via SDK", "model", g.config.Model)
	return nil
}

func (g *GenAI) open(ctx context.Context) (*genai.Session, error) {
	client, err := genai.NewClient(ctx, g.clientConfig())
	if err != nil {
		return nil, NewConnectionError("create client", err, false)
	}

	lc, err := LiveConfig(g.config.SessionOptions())
	if err != nil {
		return nil, NewConnectionError("build session config", err, false)
	}

	session, err := client.Live.Connect(ctx, g.config.Model, lc)
	if err != nil {
		return nil, NewConnectionError("dial failed", err, true)
	}

	stop := context.AfterFunc(ctx, func() { session.Close() })
	defer stop()

	msg, err := session.Receive()
	if err != nil {
		session.Close()
		if ctx.Err() != nil {
			return nil, NewConnectionError("setup cancelled", ctx.Err(), false)
		}
		return nil, NewConnectionError("await setupComplete", err, false)
	}
	g.messagesReceived.Add(1)
	if msg.SetupComplete == nil {
		session.Close()
		return nil, NewConnectionError("unexpected setup reply", ErrSetupRejected, false)
	}
	return session, nil
}

// Close ends the session. OnClose fires from the receive loop.
func (g *GenAI) Close() error {
	g.mu.Lock()
	session := g.session
	g.session = nil
	g.state = StateDisconnected
	g.mu.Unlock()

	if session == nil {
		return nil
	}
	g.logger.Info("disconnected from Gemini Live via SDK")
	return session.Close()
}

// IsConnected returns true if connected.
func (g *GenAI) IsConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state == StateConnected
}

func (g *GenAI) current() (*genai.Session, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state != StateConnected || g.session == nil {
		return nil, ErrNotConnected
	}
	return g.session, nil
}

// SendAudio sends one microphone chunk as realtime input.
func (g *GenAI) SendAudio(chunk audioio.Chunk) error {
	session, err := g.current()
	if err != nil {
		return err
	}
	mime := chunk.MIMEType
	if mime == "" {
		mime = audioio.CaptureMIMEType
	}

	g.sendMu.Lock()
	err = session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: chunk.PCM, MIMEType: mime},
	})
	g.sendMu.Unlock()
	if err != nil {
		return NewConnectionError("send audio failed", err, true)
	}
	g.messagesSent.Add(1)
	return nil
}

// SubmitToolResult answers a function call.
func (g *GenAI) SubmitToolResult(result ToolResult) error {
	session, err := g.current()
	if err != nil {
		return err
	}

	g.sendMu.Lock()
	err = session.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{{
			ID:       result.ID,
			Name:     result.Name,
			Response: result.Response,
		}},
	})
	g.sendMu.Unlock()
	if err != nil {
		return NewConnectionError("submit tool result failed", err, true)
	}
	g.messagesSent.Add(1)
	g.logger.Debug("submitted tool result", "call_id", result.ID, "name", result.Name)
	return nil
}

// Capabilities returns provider capabilities.
func (g *GenAI) Capabilities() Capabilities {
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
func (g *GenAI) Metrics() Metrics {
	return Metrics{
		MessagesSent:       g.messagesSent.Load(),
		MessagesReceived:   g.messagesReceived.Load(),
		AudioBytesReceived: g.audioBytes.Load(),
		ToolCallsReceived:  g.toolCalls.Load(),
	}
}

func (g *GenAI) receiveLoop(session *genai.Session) {
	defer func() {
		g.mu.Lock()
		if g.session == session {
			g.session = nil
			g.state = StateDisconnected
		}
		g.mu.Unlock()
		g.emitClose()
	}()

	for {
		msg, err := session.Receive()
		if err != nil {
			g.mu.RLock()
			local := g.session != session
			g.mu.RUnlock()

			var closeErr *websocket.CloseError
			switch {
			case local:
			case errors.As(err, &closeErr) && (closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway):
				g.logger.Info("connection closed by server")
			default:
				g.logger.Error("receive error", "error", err)
				g.emitError(NewConnectionError("receive failed", err, true))
			}
			return
		}
		g.messagesReceived.Add(1)
		g.dispatch(msg)
	}
}

func (g *GenAI) dispatch(msg *genai.LiveServerMessage) {
	if msg.ToolCall != nil {
		for _, fc := range msg.ToolCall.FunctionCalls {
			if fc == nil {
				continue
			}
			g.toolCalls.Add(1)
			g.logger.Info("tool call received", "name", fc.Name, "call_id", fc.ID)
			args := fc.Args
			if args == nil {
				args = map[string]any{}
			}
			g.emitToolCall(ToolCall{ID: fc.ID, Name: fc.Name, Args: args})
		}
	}

	sc := msg.ServerContent
	if sc == nil {
		return
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			g.audioBytes.Add(int64(len(p.InlineData.Data)))
			g.emitAudio(p.InlineData.Data)
		}
	}
	if sc.Interrupted {
		g.emitInterruption()
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		g.emitTranscript(sc.OutputTranscription.Text, sc.OutputTranscription.Finished)
	}
	if sc.TurnComplete {
		g.emitTurnComplete()
	}
}

// Ensure GenAI implements Provider.
var _ Provider = (*GenAI)(nil)
