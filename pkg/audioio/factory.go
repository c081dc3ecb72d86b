package audioio

import (
	"fmt"
	"log/slog"

	"github.com/teslashibe/amber-eyes/internal/log"
)

// NewSource creates a capture source for cfg.Backend.
// Ingest sources are created directly with NewIngestSource since the web
// server needs a handle to push into.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger = log.Or(logger)

	logger.Debug("creating audio source",
		"backend", cfg.Backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch cfg.Backend {
	case BackendFFmpeg:
		return NewFFmpegSource(cfg, logger), nil
	case BackendIngest:
		return NewIngestSource(cfg), nil
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

// AvailableBackends returns every capture backend.
func AvailableBackends() []Backend {
	return []Backend{BackendFFmpeg, BackendIngest, BackendMock}
}
