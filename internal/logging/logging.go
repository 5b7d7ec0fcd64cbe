package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"finrep/internal/config"
)

// New builds a logger from the log config and installs it as the zap global.
// The returned func flushes buffered entries and restores the previous global.
func New(cfg config.LogConfig) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "json" {
		zc.Encoding = "json"
		zc.EncoderConfig = zap.NewProductionEncoderConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	restore := zap.ReplaceGlobals(logger)
	return logger, func() {
		_ = logger.Sync()
		restore()
	}, nil
}
