package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"finrep/internal/config"
	"finrep/internal/logging"
)

func TestNew_InstallsGlobal(t *testing.T) {
	logger, restore, err := logging.New(config.LogConfig{Level: "WARN", Format: "json"})
	require.NoError(t, err)

	assert.Same(t, logger, zap.L())
	assert.False(t, zap.L().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, zap.L().Core().Enabled(zapcore.WarnLevel))

	restore()
	assert.NotSame(t, logger, zap.L())
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := logging.New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
