package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Format: "json", Output: &buf})

	logger.Debug("hidden")
	logger.Info("stage finished", "stage", "ingest")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stage finished", entry["msg"])
	assert.Equal(t, "ingest", entry["stage"])
	assert.Equal(t, "article-rag", entry["app"])
	assert.Same(t, logger, slog.Default())
}

func TestNewText(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	New(Config{Level: slog.LevelDebug, Format: "text", Output: &buf}).Debug("visible")

	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "msg=visible")
}
