package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	file := filepath.Join(t.TempDir(), "flashvault.log")

	log := NewLogger(LogOptions{File: file, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	log.Info("Pool started")
	_ = log.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Pool started"`)
	assert.Contains(t, string(data), `"timestamp"`)

	debugLog := NewLogger(LogOptions{Debug: true})
	assert.True(t, debugLog.Core().Enabled(zapcore.DebugLevel))
}

func TestGetLogger(t *testing.T) {
	assert.NotNil(t, GetLogger())
	assert.Same(t, GetLogger(), InitLogger(LogOptions{Debug: true}))
}
