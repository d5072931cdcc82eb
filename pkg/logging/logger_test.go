package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storyforge/pkg/config"
)

func TestInit(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	tempDir := t.TempDir()
	serverLog := filepath.Join(tempDir, "server.log")
	requestLog := filepath.Join(tempDir, "requests.log")

	// A previous run's log should be rotated away
	if err := os.WriteFile(serverLog, []byte("old run\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.LogConfig{
		Server:   config.LogSettings{Path: serverLog, Level: "DEBUG"},
		Requests: config.LogSettings{Path: requestLog, Level: "INFO"},
	}

	cleanup, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer cleanup()

	if _, err := os.Stat(serverLog); os.IsNotExist(err) {
		t.Error("Server log file not created")
	}
	if _, err := os.Stat(requestLog); os.IsNotExist(err) {
		t.Error("Request log file not created")
	}
	old, err := os.ReadFile(serverLog + ".old")
	if err != nil || string(old) != "old run\n" {
		t.Errorf("expected rotated .old file, got %q (%v)", old, err)
	}

	if RequestLogger == nil {
		t.Error("RequestLogger was not initialized")
	}

	slog.Info("Worker: Job finished", "job", "abc")
	if !strings.Contains(GlobalLogCapture.GetLastLine(), "Worker: Job finished") {
		t.Errorf("capture writer missed the record: %q", GlobalLogCapture.GetLastLine())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogCaptureWriter_Tail(t *testing.T) {
	w := &LogCaptureWriter{}
	for i := 0; i < captureDepth+5; i++ {
		fmt.Fprintf(w, "line %d\n", i)
	}

	if got := w.GetLastLine(); got != fmt.Sprintf("line %d", captureDepth+4) {
		t.Errorf("GetLastLine = %q", got)
	}
	tail := w.Tail(3)
	if len(tail) != 3 || tail[0] != fmt.Sprintf("line %d", captureDepth+2) {
		t.Errorf("Tail(3) = %v", tail)
	}
	if all := w.Tail(0); len(all) != captureDepth {
		t.Errorf("expected buffer capped at %d, got %d", captureDepth, len(all))
	}
}
