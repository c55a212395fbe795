package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConsoleJSON(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(Config{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()

	log.With("component", "channel").Info("channel open", "subject", "42")
	log.Debug("hidden")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("output %q: %v", buf.String(), err)
	}
	if rec["component"] != "channel" || rec["subject"] != "42" {
		t.Errorf("record = %v", rec)
	}
}

func TestQuietWritesFileOnly(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "meetscribe.log")
	log, closer, err := New(Config{Level: "debug", File: path, MaxSizeMB: 1, Quiet: true}, &console)
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("to file")
	closer.Close()

	if console.Len() != 0 {
		t.Errorf("console got %q", console.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("file = %q", data)
	}
}
