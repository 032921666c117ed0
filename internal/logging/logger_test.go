package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(Config{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("stage finished", zap.String("stage", "univariate"), zap.Int("buckets", 42))
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "stage finished", entry["message"])
	assert.Equal(t, "univariate", entry["stage"])
	assert.Equal(t, float64(42), entry["buckets"])
	assert.Contains(t, entry, "timestamp")
	assert.Contains(t, entry, "caller")
}

func TestNewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(Config{Format: "console"}, &buf)
	require.NoError(t, err)

	logger.Warn("no events")
	require.NoError(t, logger.Sync())
	assert.Contains(t, buf.String(), "warn")
	assert.Contains(t, buf.String(), "no events")
}

func TestNew_InvalidSettings(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")

	_, err = New(Config{Format: "xml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log format")
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loglens.log")
	cfg := DefaultConfig()
	cfg.FilePath = path

	var buf bytes.Buffer
	logger, err := NewWithWriter(cfg, &buf)
	require.NoError(t, err)
	logger.Info("written twice")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"written twice"`)
	assert.Contains(t, buf.String(), "written twice")
}
