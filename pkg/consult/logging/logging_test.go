package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
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
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestNew_JSONFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "warn", Format: FormatJSON}, &buf)
	require.NoError(t, err)
	defer l.Close()

	l.Info().Msg("dropped")
	l.Warn().Str("session_id", "s1").Msg("kept")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["message"])
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "s1", lines[0]["session_id"])
	assert.Contains(t, lines[0], "time")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: FormatConsole}, &buf)
	require.NoError(t, err)

	l.Info().Msg("hello console")
	assert.Contains(t, buf.String(), "hello console")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medconsult.log")
	var buf bytes.Buffer
	l, err := New(Config{Level: "debug", Format: FormatJSON, File: path}, &buf)
	require.NoError(t, err)

	l.Debug().Msg("to both")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}

func TestNew_FileError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "medconsult.log")
	_, err := New(Config{File: path}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open log file")
}

func TestSlogHandler_Attrs(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	logger := slog.New(NewSlogHandler(zl))

	logger.Info("node complete",
		slog.String("node_id", "decision"),
		slog.Int("attempt", 2),
		slog.Bool("resumed", true),
		slog.Float64("duration_ms", 1.5),
		slog.Duration("latency", 2*time.Millisecond),
		slog.Any("error", errors.New("boom")),
		slog.Group("model", slog.String("name", "questioner")),
	)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	rec := lines[0]
	assert.Equal(t, "node complete", rec["message"])
	assert.Equal(t, "info", rec["level"])
	assert.Equal(t, "decision", rec["node_id"])
	assert.EqualValues(t, 2, rec["attempt"])
	assert.Equal(t, true, rec["resumed"])
	assert.EqualValues(t, 1.5, rec["duration_ms"])
	assert.Contains(t, rec, "latency")
	assert.Equal(t, "boom", rec["error"])
	assert.Equal(t, "questioner", rec["model.name"])
}

func TestSlogHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandler(zerolog.New(&buf)))

	enriched := logger.With("thread_id", "s1").WithGroup("tool").With("name", "lookup")
	enriched.Warn("retrying", "attempt", 1)
	logger.Info("plain")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "s1", lines[0]["thread_id"])
	assert.Equal(t, "lookup", lines[0]["tool.name"])
	assert.EqualValues(t, 1, lines[0]["tool.attempt"])
	assert.Equal(t, "warn", lines[0]["level"])

	assert.NotContains(t, lines[1], "thread_id")
	assert.NotContains(t, lines[1], "tool.name")
}

func TestSlogHandler_Enabled(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandler(zerolog.New(&buf).Level(zerolog.WarnLevel)))

	logger.Debug("no")
	logger.Info("no")
	logger.Warn("yes")
	logger.Error("yes")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "error", lines[1]["level"])
}

func TestLogger_Slog(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: FormatJSON}, &buf)
	require.NoError(t, err)

	l.Slog().Info("bridged", "session_id", "s9")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "bridged", lines[0]["message"])
	assert.Equal(t, "s9", lines[0]["session_id"])
}
