// Package observability provides logging and metrics for the lobby server.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/lobby/internal/config"
)

// Sampling keeps the first sampleInitial entries with the same level and
// message per second, then one in every sampleThereafter.
const (
	sampleInitial    = 100
	sampleThereafter = 100
)

// NewLogger creates a structured logger from the given logging configuration.
// Every entry carries component=lobby; per-connection loggers add conn_id and
// remote_addr with With.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.InitialFields = map[string]interface{}{"component": "lobby"}

	// A client flooding unknown commands produces one warning per frame.
	zapCfg.Sampling = nil
	if cfg.Sampling {
		zapCfg.Sampling = &zap.SamplingConfig{
			Initial:    sampleInitial,
			Thereafter: sampleThereafter,
		}
	}
	if len(cfg.OutputPaths) > 0 {
		zapCfg.OutputPaths = cfg.OutputPaths
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
