package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":     slog.LevelDebug,
		" WARN ":    slog.LevelWarn,
		"warning":   slog.LevelWarn,
		"Error":     slog.LevelError,
		"info":      slog.LevelInfo,
		"":          slog.LevelInfo,
		"verbose-x": slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestNewWithWriterFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn")

	logger.Info("dropped")
	logger.Warn("kept", "identity", "5511")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["msg"])
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, "5511", lines[0]["identity"])
}

func TestComponentAndWithAttachFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug").Component("worker").With("worker_id", 2)

	logger.Debug("job picked")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "worker", lines[0]["component"])
	assert.EqualValues(t, 2, lines[0]["worker_id"])
}

func TestNilLoggerChildrenFallBackToDefault(t *testing.T) {
	var logger *Logger
	assert.NotNil(t, logger.Component("session").Logger)
	assert.NotNil(t, logger.With("k", "v").Logger)
}

func TestDiscardDropsErrorsToo(t *testing.T) {
	logger := Discard()
	require.NotNil(t, logger)
	assert.NotPanics(t, func() { logger.Error("ignored", "error", "boom") })
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
}
