package conversation

import (
	"context"
	"sync"

	"github.com/teslashibe/amber-eyes/pkg/audioio"
)

// Mock is a mock implementation of Provider for testing.
type Mock struct {
	handlers

	mu sync.RWMutex

	// State
	connected bool

	// Configurable behavior
	ConnectFunc          func(ctx context.Context) error
	CloseFunc            func() error
	SendAudioFunc        func(chunk audioio.Chunk) error
	SubmitToolResultFunc func(result ToolResult) error

	// Captured calls for assertions
	AudioSent   []audioio.Chunk
	ToolResults []ToolResult
	Connects    int
	Closes      int
}

// NewMock creates a new Mock provider.
func NewMock() *Mock {
	return &Mock{}
}

// Connect implements Provider.
func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.Connects++
	fn := m.ConnectFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return ErrAlreadyConnected
	}
	m.connected = true
	return nil
}

// Close implements Provider. Like the real providers it fires OnClose
// when an open session ends.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.Closes++
	was := m.connected
	m.connected = false
	fn := m.CloseFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(); err != nil {
			return err
		}
	}
	if was {
		m.emitClose()
	}
	return nil
}

// IsConnected implements Provider.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// SendAudio implements Provider.
func (m *Mock) SendAudio(chunk audioio.Chunk) error {
	if m.SendAudioFunc != nil {
		return m.SendAudioFunc(chunk)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.AudioSent = append(m.AudioSent, chunk)
	return nil
}

// SubmitToolResult implements Provider.
func (m *Mock) SubmitToolResult(result ToolResult) error {
	if m.SubmitToolResultFunc != nil {
		return m.SubmitToolResultFunc(result)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.ToolResults = append(m.ToolResults, result)
	return nil
}

// Capabilities implements Provider.
func (m *Mock) Capabilities() Capabilities {
	return Capabilities{
		SupportsToolCalls:     true,
		SupportsInterruption:  true,
		SupportsTranscription: true,
		InputSampleRate:       16000,
		OutputSampleRate:      24000,
		SupportedModels:       []string{"mock-model"},
	}
}

// Test helpers

// Sent returns a copy of the captured audio chunks.
func (m *Mock) Sent() []audioio.Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]audioio.Chunk(nil), m.AudioSent...)
}

// Results returns a copy of the captured tool results.
func (m *Mock) Results() []ToolResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ToolResult(nil), m.ToolResults...)
}

// SimulateAudio triggers the OnAudio callback.
func (m *Mock) SimulateAudio(pcm []byte) { m.emitAudio(pcm) }

// SimulateToolCall triggers the OnToolCall callback.
func (m *Mock) SimulateToolCall(call ToolCall) { m.emitToolCall(call) }

// SimulateInterruption triggers the OnInterruption callback.
func (m *Mock) SimulateInterruption() { m.emitInterruption() }

// SimulateTranscript triggers the OnTranscript callback.
func (m *Mock) SimulateTranscript(text string, final bool) { m.emitTranscript(text, final) }

// SimulateTurnComplete triggers the OnTurnComplete callback.
func (m *Mock) SimulateTurnComplete() { m.emitTurnComplete() }

// SimulateError triggers the OnError callback.
func (m *Mock) SimulateError(err error) { m.emitError(err) }

// SimulateClose ends the session from the remote side.
func (m *Mock) SimulateClose() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.emitClose()
}

// Reset clears all captured data.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AudioSent = nil
	m.ToolResults = nil
	m.Connects = 0
	m.Closes = 0
}

// Ensure Mock implements Provider.
var _ Provider = (*Mock)(nil)
