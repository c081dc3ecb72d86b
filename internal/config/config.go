package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for automatic environment bindings,
// e.g. AMBER_WEB_PORT overrides web.port.
const EnvPrefix = "AMBER"

// DefaultAmbientURL is the looped background track played while connected.
const DefaultAmbientURL = "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-17.mp3"

// DefaultModel is the Gemini Live model used when none is configured.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"

// Config holds the complete application configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Web        WebConfig        `mapstructure:"web" yaml:"web"`
	Camera     CameraConfig     `mapstructure:"camera" yaml:"camera"`
	Audio      AudioConfig      `mapstructure:"audio" yaml:"audio"`
	Session    SessionConfig    `mapstructure:"session" yaml:"session"`
	Expression ExpressionConfig `mapstructure:"expression" yaml:"expression"`
	Ambient    AmbientConfig    `mapstructure:"ambient" yaml:"ambient"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// WebConfig controls the render surface server.
type WebConfig struct {
	Port      int    `mapstructure:"port" yaml:"port"`
	StaticDir string `mapstructure:"static_dir" yaml:"static_dir"`
}

// CameraConfig selects and sizes the frame source.
type CameraConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // gocv, ingest, none
	Device  int    `mapstructure:"device" yaml:"device"`
	Width   int    `mapstructure:"width" yaml:"width"`
	Height  int    `mapstructure:"height" yaml:"height"`
	FPS     int    `mapstructure:"fps" yaml:"fps"`
}

// AudioConfig selects microphone input and speech output.
type AudioConfig struct {
	Input       string   `mapstructure:"input" yaml:"input"`               // ffmpeg, ingest, none
	InputFormat string   `mapstructure:"input_format" yaml:"input_format"` // ffmpeg -f value, e.g. pulse, alsa, avfoundation
	InputDevice string   `mapstructure:"input_device" yaml:"input_device"`
	Outputs     []string `mapstructure:"outputs" yaml:"outputs"` // speaker, webrtc
}

// SessionConfig configures the remote conversational agent.
type SessionConfig struct {
	Provider       string `mapstructure:"provider" yaml:"provider"` // gemini, genai, mock
	Model          string `mapstructure:"model" yaml:"model"`
	APIKey         string `mapstructure:"api_key" yaml:"-"`
	Voice          string `mapstructure:"voice" yaml:"voice"`
	SystemPrompt   string `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
	VertexProject  string `mapstructure:"vertex_project" yaml:"vertex_project,omitempty"`
	VertexLocation string `mapstructure:"vertex_location" yaml:"vertex_location,omitempty"`
}

// ExpressionConfig tunes the expression state machine.
type ExpressionConfig struct {
	RevertAfter       time.Duration `mapstructure:"revert_after" yaml:"revert_after"`
	CancelStaleRevert bool          `mapstructure:"cancel_stale_revert" yaml:"cancel_stale_revert"`
	BlinkMin          time.Duration `mapstructure:"blink_min" yaml:"blink_min"`
	BlinkMax          time.Duration `mapstructure:"blink_max" yaml:"blink_max"`
	BlinkHold         time.Duration `mapstructure:"blink_hold" yaml:"blink_hold"`
}

// AmbientConfig controls the background track.
type AmbientConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	URL     string  `mapstructure:"url" yaml:"url"`
	Volume  float64 `mapstructure:"volume" yaml:"volume"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Web: WebConfig{Port: 8181},
		Camera: CameraConfig{
			Backend: "gocv",
			Device:  0,
			Width:   320,
			Height:  240,
			FPS:     30,
		},
		Audio: AudioConfig{
			Input:       "ffmpeg",
			InputFormat: "pulse",
			InputDevice: "default",
			Outputs:     []string{"speaker"},
		},
		Session: SessionConfig{
			Provider:       "gemini",
			Model:          DefaultModel,
			VertexLocation: "us-central1",
		},
		Expression: ExpressionConfig{
			RevertAfter: 7 * time.Second,
			BlinkMin:    5 * time.Second,
			BlinkMax:    8 * time.Second,
			BlinkHold:   250 * time.Millisecond,
		},
		Ambient: AmbientConfig{
			Enabled: true,
			URL:     DefaultAmbientURL,
			Volume:  0.12,
		},
	}
}

// Load reads configuration from defaults, the optional file at path (or
// ./amber.yaml, $XDG_CONFIG_HOME/amber/amber.yaml) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("session.api_key", "AMBER_SESSION_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("session.vertex_project", "AMBER_SESSION_VERTEX_PROJECT", "GOOGLE_CLOUD_PROJECT")
	_ = v.BindEnv("session.vertex_location", "AMBER_SESSION_VERTEX_LOCATION", "GOOGLE_CLOUD_LOCATION")
	_ = v.BindEnv("log.level", "AMBER_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("log.format", "AMBER_LOG_FORMAT")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("amber")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(Path()))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Validate checks that every selector names a known backend.
func (c *Config) Validate() error {
	var errs []error

	if f := c.Log.Format; f != "" && f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", f))
	}
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		errs = append(errs, fmt.Errorf("web.port %d out of range", c.Web.Port))
	}
	if !slices.Contains([]string{"gocv", "ingest", "none"}, c.Camera.Backend) {
		errs = append(errs, fmt.Errorf("camera.backend %q must be gocv, ingest or none", c.Camera.Backend))
	}
	if !slices.Contains([]string{"ffmpeg", "ingest", "none"}, c.Audio.Input) {
		errs = append(errs, fmt.Errorf("audio.input %q must be ffmpeg, ingest or none", c.Audio.Input))
	}
	for _, out := range c.Audio.Outputs {
		if out != "speaker" && out != "webrtc" {
			errs = append(errs, fmt.Errorf("audio.outputs entry %q must be speaker or webrtc", out))
		}
	}

	switch c.Session.Provider {
	case "gemini", "genai":
		if c.Session.APIKey == "" && c.Session.VertexProject == "" {
			errs = append(errs, errors.New("session: GEMINI_API_KEY or session.vertex_project is required"))
		}
	case "mock":
	default:
		errs = append(errs, fmt.Errorf("session.provider %q must be gemini, genai or mock", c.Session.Provider))
	}

	if c.Expression.BlinkMin <= 0 || c.Expression.BlinkMax < c.Expression.BlinkMin {
		errs = append(errs, errors.New("expression: blink_min must be positive and not above blink_max"))
	}
	if c.Ambient.Volume < 0 || c.Ambient.Volume > 1 {
		errs = append(errs, fmt.Errorf("ambient.volume %.2f must be within [0,1]", c.Ambient.Volume))
	}

	return errors.Join(errs...)
}

// Path returns the default config file location under $XDG_CONFIG_HOME,
// or ~/.config when it is unset.
func Path() string {
	base := EnvOr("", "XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "amber", "amber.yaml")
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("web.port", d.Web.Port)
	v.SetDefault("web.static_dir", d.Web.StaticDir)
	v.SetDefault("camera.backend", d.Camera.Backend)
	v.SetDefault("camera.device", d.Camera.Device)
	v.SetDefault("camera.width", d.Camera.Width)
	v.SetDefault("camera.height", d.Camera.Height)
	v.SetDefault("camera.fps", d.Camera.FPS)
	v.SetDefault("audio.input", d.Audio.Input)
	v.SetDefault("audio.input_format", d.Audio.InputFormat)
	v.SetDefault("audio.input_device", d.Audio.InputDevice)
	v.SetDefault("audio.outputs", d.Audio.Outputs)
	v.SetDefault("session.provider", d.Session.Provider)
	v.SetDefault("session.model", d.Session.Model)
	v.SetDefault("session.api_key", "")
	v.SetDefault("session.voice", d.Session.Voice)
	v.SetDefault("session.system_prompt", "")
	v.SetDefault("session.vertex_project", "")
	v.SetDefault("session.vertex_location", d.Session.VertexLocation)
	v.SetDefault("expression.revert_after", d.Expression.RevertAfter)
	v.SetDefault("expression.cancel_stale_revert", d.Expression.CancelStaleRevert)
	v.SetDefault("expression.blink_min", d.Expression.BlinkMin)
	v.SetDefault("expression.blink_max", d.Expression.BlinkMax)
	v.SetDefault("expression.blink_hold", d.Expression.BlinkHold)
	v.SetDefault("ambient.enabled", d.Ambient.Enabled)
	v.SetDefault("ambient.url", d.Ambient.URL)
	v.SetDefault("ambient.volume", d.Ambient.Volume)
}
