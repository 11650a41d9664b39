package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreDefaults(t *testing.T) {
	t.Cleanup(func() {
		SetFormat("text")
		SetOutput(os.Stdout)
		SetLevel("info")
	})
}

func TestSetLevelFiltersDebug(t *testing.T) {
	restoreDefaults(t)
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel("warn")

	Infof("hidden %d", 1)
	Warnf("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown 2")
	assert.Equal(t, slog.LevelWarn, Level())
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestSetFormatJSON(t *testing.T) {
	restoreDefaults(t)
	var buf bytes.Buffer
	SetOutput(&buf)
	SetFormat("JSON")

	Infof("[task] %s done", "abc")

	line := strings.TrimSpace(buf.String())
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &payload))
	assert.Equal(t, "[task] abc done", payload["msg"])
	assert.Equal(t, "INFO", payload["level"])
}

func TestInfoBlockSkipsEmpty(t *testing.T) {
	restoreDefaults(t)
	var buf bytes.Buffer
	SetOutput(&buf)

	InfoBlock("   ")
	assert.Empty(t, buf.String())

	InfoBlock("a\nb")
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
}
