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
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestWithFieldsMergesBaseAndExtra(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelDebug, map[string]interface{}{"app": "flightplan"})

	WithFields(map[string]interface{}{"server": "web-1"}).Info("command finished", map[string]interface{}{"status": 0})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	line := lines[0]
	assert.Equal(t, "info", line["lvl"])
	assert.Equal(t, "command finished", line["msg"])
	assert.Equal(t, "flightplan", line["app"])
	assert.Equal(t, "web-1", line["server"])
	assert.EqualValues(t, 0, line["status"])
	assert.Contains(t, line, "ts")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelWarn, nil)

	Debug("hidden", nil)
	Info("hidden", nil)
	Warn("shown", nil)
	Error("shown too", nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["lvl"])
	assert.Equal(t, "error", lines[1]["lvl"])

	SetLevel(LevelDebug)
	Debug("now visible", nil)
	assert.Len(t, decodeLines(t, &buf), 3)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"":        LevelInfo,
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestSetupWritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flightplan.log")
	require.NoError(t, Setup(Config{Level: "info", File: path, MaxSizeMB: 1}, nil))
	defer Close()

	Info("to file", map[string]interface{}{"k": "v"})
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestSetupRejectsBadFormat(t *testing.T) {
	assert.Error(t, Setup(Config{Format: "xml"}, nil))
	assert.Error(t, Setup(Config{Level: "chatty"}, nil))
}
