package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_FileAndConsole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")
	var console bytes.Buffer

	logger, err := New(Options{FilePath: path, Level: "debug", Console: true, Stderr: &console})
	require.NoError(t, err)
	logger.Debug("request sent", zap.String("path", "/users"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"request sent"`)
	assert.Contains(t, console.String(), "request sent")
}

func TestNew_LevelFilters(t *testing.T) {
	var console bytes.Buffer
	logger, err := New(Options{Level: "warn", Console: true, Stderr: &console})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "shown")
}

func TestNew_NoOutputs(t *testing.T) {
	logger, err := New(Options{})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestParseLevel(t *testing.T) {
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
	lvl, err := ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, zap.WarnLevel, lvl)
}
