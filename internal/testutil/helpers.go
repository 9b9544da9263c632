// Package testutil holds fixtures shared by the staging and command tests:
// source files in the shape the event simulator and song dataset produce,
// and a logger that writes through testing.T.
package testutil

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	// DirPermission is used for fixture directories
	DirPermission = 0o755
	// FilePermission is used for fixture files
	FilePermission = 0o644
)

// WriteFile writes content to path, creating parent directories
func WriteFile(t testing.TB, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), DirPermission); err != nil {
		t.Fatalf("Failed to create directories: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), FilePermission); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

// Event is one activity log record keyed like the simulator output
type Event map[string]any

// NextSong returns a song play by user at ts, epoch milliseconds
func NextSong(user string, ts int64, song, artist string, length float64) Event {
	return Event{
		"artist":        artist,
		"auth":          "Logged In",
		"firstName":     "Lily",
		"gender":        "F",
		"itemInSession": 0,
		"lastName":      "Koch",
		"length":        length,
		"level":         "free",
		"location":      "Chicago-Naperville-Elgin, IL-IN-WI",
		"method":        "PUT",
		"page":          "NextSong",
		"registration":  1.541048010796e12,
		"sessionId":     172,
		"song":          song,
		"status":        200,
		"ts":            ts,
		"userAgent":     "Mozilla/5.0",
		"userId":        user,
	}
}

// With returns a copy of e with the given fields replaced
func (e Event) With(fields map[string]any) Event {
	out := make(Event, len(e)+len(fields))
	for k, v := range e {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Song returns one song dataset record
func Song(songID, title, artistID, artistName string, duration float64) map[string]any {
	return map[string]any{
		"num_songs":        1,
		"artist_id":        artistID,
		"artist_latitude":  nil,
		"artist_longitude": nil,
		"artist_location":  "",
		"artist_name":      artistName,
		"song_id":          songID,
		"title":            title,
		"duration":         duration,
		"year":             0,
	}
}

// JSONLines encodes records one per line, as the event logs are stored
func JSONLines(t testing.TB, records ...any) string {
	t.Helper()
	var b strings.Builder
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("Failed to encode fixture: %v", err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String()
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// NewTestLogger returns a debug logger whose output is shown only for
// failing tests.
func NewTestLogger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
