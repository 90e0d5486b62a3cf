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
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("ParseLevel(verbose) succeeded, want error")
	}
}

func TestJSONFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithWriter(&buf, "json", slog.LevelInfo)
	log.Debug("hidden")
	log.Info("published", "stream", "cam")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["msg"] != "published" || rec["stream"] != "cam" {
		t.Errorf("got %v", rec)
	}
}

func TestTextFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewWithWriter(&buf, "text", slog.LevelWarn).Warn("lagged", "skipped", 3)
	if got := buf.String(); !strings.Contains(got, "msg=lagged") || !strings.Contains(got, "skipped=3") {
		t.Errorf("got %q", got)
	}
}

func TestFileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "whipfan.log")
	log, closer, err := New(Options{Level: "info", Format: "text", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hello")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "msg=hello") {
		t.Errorf("log file = %q", data)
	}
}

func TestNewRejectsLevel(t *testing.T) {
	t.Parallel()
	if _, _, err := New(Options{Level: "chatty"}); err == nil {
		t.Error("New succeeded, want error")
	}
}
