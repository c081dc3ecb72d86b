package conversation

import (
	"log/slog"
	"time"

	"golang.org/x/oauth2"
)

// Config holds configuration for conversation providers.
type Config struct {
	// APIKey authenticates against the Gemini API (AI Studio).
	APIKey string

	// Model is the Live model name without any "models/" prefix.
	Model string

	// Voice is an optional prebuilt voice name, e.g. "Puck".
	Voice string

	// BaseURL overrides the websocket endpoint.
	BaseURL string

	// SystemPrompt is the system instruction.
	SystemPrompt string

	// VertexProject switches to Vertex AI when set.
	VertexProject string

	// VertexLocation is the Vertex AI region.
	VertexLocation string

	// TokenSource supplies Vertex bearer tokens. Application default
	// credentials are used when nil.
	TokenSource oauth2.TokenSource

	// InputSampleRate is the audio input sample rate in Hz.
	InputSampleRate int

	// OutputSampleRate is the audio output sample rate in Hz.
	OutputSampleRate int

	// Timeout bounds dialing and setup.
	Timeout time.Duration

	// ReadTimeout is the idle timeout for reading messages after setup.
	// Zero, the default, keeps a quiet session open indefinitely.
	ReadTimeout time.Duration

	// WriteTimeout bounds each write.
	WriteTimeout time.Duration

	// OutputTranscription asks the service to transcribe model speech.
	OutputTranscription bool

	// Logger is the structured logger to use.
	Logger *slog.Logger

	// Tools is the list of tools available to the model.
	Tools []Tool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model:               DefaultModel,
		VertexLocation:      "us-central1",
		InputSampleRate:     16000,
		OutputSampleRate:    24000,
		Timeout:             30 * time.Second,
		WriteTimeout:        10 * time.Second,
		OutputTranscription: true,
		Logger:              slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.APIKey == "" && c.VertexProject == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// UseVertex reports whether the session goes through Vertex AI.
func (c *Config) UseVertex() bool {
	return c.VertexProject != ""
}

// SessionOptions returns the setup derived from the config.
func (c *Config) SessionOptions() SessionOptions {
	return SessionOptions{
		SystemPrompt:        c.SystemPrompt,
		Voice:               c.Voice,
		Tools:               c.Tools,
		OutputTranscription: c.OutputTranscription,
	}
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithModel sets the Live model.
func WithModel(model string) Option {
	return func(c *Config) {
		if model != "" {
			c.Model = model
		}
	}
}

// WithVoice sets the prebuilt voice.
func WithVoice(voice string) Option {
	return func(c *Config) {
		c.Voice = voice
	}
}

// WithBaseURL sets the websocket endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithSystemPrompt sets the system instruction.
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) {
		c.SystemPrompt = prompt
	}
}

// WithVertex routes the session through Vertex AI.
func WithVertex(project, location string) Option {
	return func(c *Config) {
		c.VertexProject = project
		if location != "" {
			c.VertexLocation = location
		}
	}
}

// WithTokenSource sets the Vertex token source.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Config) {
		c.TokenSource = ts
	}
}

// WithTimeout sets the dial and setup timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithReadTimeout sets the idle read timeout. Zero disables it.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ReadTimeout = d
	}
}

// WithOutputTranscription toggles output transcription.
func WithOutputTranscription(enabled bool) Option {
	return func(c *Config) {
		c.OutputTranscription = enabled
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithTools sets the available tools.
func WithTools(tools ...Tool) Option {
	return func(c *Config) {
		c.Tools = tools
	}
}

// DefaultModel is the native-audio Live model.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"

// Prebuilt voices.
const (
	VoicePuck   = "Puck"
	VoiceCharon = "Charon"
	VoiceKore   = "Kore"
	VoiceFenrir = "Fenrir"
	VoiceAoede  = "Aoede"
)
