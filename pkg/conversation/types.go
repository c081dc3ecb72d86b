package conversation

import "time"

// ConnectionState is where a provider's live connection stands.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	// StateConnecting means setup was sent and setupComplete is pending.
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
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

// Tool declares a function the model can call.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Parameters is the OpenAPI schema of the arguments, using the
	// upper-case type names Gemini expects ("OBJECT", "STRING").
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ToolCall is one function call requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// StringArg returns the named argument if it is a string.
func (c ToolCall) StringArg(name string) (string, bool) {
	v, ok := c.Args[name].(string)
	return v, ok
}

// ToolResult answers a ToolCall.
type ToolResult struct {
	ID       string
	Name     string
	Response map[string]any
}

// SessionOptions is the setup sent when a session opens.
type SessionOptions struct {
	SystemPrompt string
	Voice        string // prebuilt voice name, optional
	Tools        []Tool

	// OutputTranscription asks the service to transcribe model speech.
	OutputTranscription bool
}

// Capabilities describes a provider. Sample rates are in Hz.
type Capabilities struct {
	SupportsToolCalls     bool
	SupportsInterruption  bool
	SupportsTranscription bool
	InputSampleRate       int
	OutputSampleRate      int
	SupportedModels       []string
}

// Metrics are per-connection counters. AudioBytesReceived counts decoded
// speech; DecodeErrors counts inbound payloads that were dropped.
type Metrics struct {
	ConnectionTime     time.Time
	MessagesSent       int64
	MessagesReceived   int64
	AudioBytesReceived int64
	ToolCallsReceived  int64
	DecodeErrors       int64
}
