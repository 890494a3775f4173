package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	cfgpkg "github.com/taoyao-code/esp-provision/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("nonsense"))
}

func TestInitLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provision.log")
	logger, err := InitLogger(cfgpkg.LoggingConfig{
		Level:  "info",
		Format: "json",
		File:   cfgpkg.LumberjackConfig{Filename: path, MaxSizeMB: 1},
	})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("device registered")
	_ = logger.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "device registered")
	assert.NotContains(t, string(b), "hidden")
}
