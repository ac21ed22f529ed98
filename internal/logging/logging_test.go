package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/jstp"
)

var _ jstp.Logger = (*Logger)(nil)

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

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "debug", FormatJSON, "jstpctl")

	l.Debug("sending handshake", "app", "chat", "restoring", false)
	l.Warn("transport error", "error", errors.New("reset"), "delay", 2*time.Second)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)

	assert.Equal(t, "debug", lines[0]["level"])
	assert.Equal(t, "sending handshake", lines[0]["message"])
	assert.Equal(t, "chat", lines[0]["app"])
	assert.Equal(t, false, lines[0]["restoring"])

	assert.Equal(t, "warn", lines[1]["level"])
	assert.Equal(t, "reset", lines[1]["error"])
	assert.Equal(t, "2s", lines[1]["delay"])
	assert.Equal(t, "jstpctl", lines[1]["app"])
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", FormatJSON, "jstpctl")

	l.Debug("hidden")
	l.Info("hidden")
	l.Error("shown", "state", jstp.Connected)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
	assert.Equal(t, "connected", lines[0]["state"])
}

func TestLoggerBadKey(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info", FormatJSON, "jstpctl")

	l.Info("odd", 42, "value", "dangling")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "value", lines[0]["42"])
	assert.Equal(t, "dangling", lines[0]["!BADKEY"])
}

func TestLoggerConsole(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info", FormatConsole, "jstpctl")

	l.Info("link established", "addr", "127.0.0.1:3000")
	out := buf.String()
	assert.Contains(t, out, "link established")
	assert.Contains(t, out, "127.0.0.1:3000")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{"", zerolog.InfoLevel, true},
		{"DEBUG", zerolog.DebugLevel, true},
		{" warning ", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"verbose", zerolog.InfoLevel, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
	}
}
