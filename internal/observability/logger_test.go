package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel(" WARN ")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestTextLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&buf, slog.LevelInfo, FormatText)
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("statement executed", "statement", "insert_users", "rows", 96, "empty", "")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "statement executed")
	assert.Contains(t, out, "statement=insert_users")
	assert.Contains(t, out, "rows=96")
	assert.NotContains(t, out, "empty=", "empty strings are dropped")
	assert.NotContains(t, out, "\x1b[", "no color when not writing to a terminal")
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&buf, slog.LevelDebug, FormatJSON)
	require.NoError(t, err)

	log.Debug("loading staging table", "table", "staging_events")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "staging_events", entry["table"])
}

func TestUnknownFormat(t *testing.T) {
	_, err := NewLogger(&bytes.Buffer{}, slog.LevelInfo, "xml")
	assert.Error(t, err)
}
