// Package conversation provides a unified interface for real-time voice
// sessions with the Gemini Live API.
//
// A Provider owns one bidirectional session: microphone chunks go up,
// model speech, tool calls, interruptions and transcripts come back as
// callbacks. Two backends speak the same contract: GeminiLive drives the
// BidiGenerateContent websocket protocol directly, GenAI goes through
// the google.golang.org/genai SDK.
//
// Example usage:
//
//	provider, err := conversation.NewGeminiLive(
//	    conversation.WithAPIKey(os.Getenv("GEMINI_API_KEY")),
//	    conversation.WithSystemPrompt(prompt),
//	    conversation.WithTools(tool),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	provider.OnAudio(func(pcm []byte) {
//	    // 24kHz PCM16 mono, schedule for playback
//	})
//
//	provider.OnToolCall(func(call conversation.ToolCall) {
//	    provider.SubmitToolResult(conversation.ToolResult{
//	        ID: call.ID, Name: call.Name,
//	        Response: map[string]any{"result": "ok"},
//	    })
//	})
//
//	if err := provider.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
package conversation

import (
	"context"

	"github.com/teslashibe/amber-eyes/pkg/audioio"
)

// Provider defines the interface for real-time voice conversation providers.
type Provider interface {
	// Connect dials the service, sends the session setup and blocks until
	// the service confirms it. Set callbacks before calling Connect.
	Connect(ctx context.Context) error

	// Close shuts down the session. OnClose fires once the read loop exits.
	Close() error

	// IsConnected returns true while the session is open.
	IsConnected() bool

	// SendAudio streams one microphone chunk.
	SendAudio(chunk audioio.Chunk) error

	// SubmitToolResult answers a tool call.
	SubmitToolResult(result ToolResult) error

	// Capabilities returns what this provider supports.
	Capabilities() Capabilities

	// OnAudio is called with decoded PCM16 speech at the output rate.
	OnAudio(fn func(pcm []byte))

	// OnToolCall is called for every function call the model makes.
	OnToolCall(fn func(call ToolCall))

	// OnInterruption is called when the user barges in on the model.
	OnInterruption(fn func())

	// OnTranscript is called with output transcription fragments.
	OnTranscript(fn func(text string, final bool))

	// OnTurnComplete is called when the model finishes a turn.
	OnTurnComplete(fn func())

	// OnError is called for session errors after Connect returned.
	OnError(fn func(err error))

	// OnClose is called once when the session ends for any reason.
	OnClose(fn func())
}
