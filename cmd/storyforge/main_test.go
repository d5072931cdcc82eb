package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"storyforge/pkg/config"
	"storyforge/pkg/llm/failover"
	"storyforge/pkg/llm/ollama"
	"storyforge/pkg/request"
	"storyforge/pkg/tracker"
)

func TestRun(t *testing.T) {
	dir := t.TempDir()

	// Backends point at a closed port so the non-critical probes fail fast
	tempConfig := fmt.Sprintf(`
server:
    address: 127.0.0.1:0
    shutdown_timeout: 1s
paths:
    text_dir: %[1]s/text
    audio_dir: %[1]s/audio
    image_dir: %[1]s/images
    speaker_dir: %[1]s/speakers
log:
    server:
        path: %[1]s/logs/server.log
        level: debug
    requests:
        path: %[1]s/logs/requests.log
        level: info
    llm:
        path: %[1]s/logs/llm.log
    tts:
        path: %[1]s/logs/tts.log
db:
    path: %[1]s/storyforge.db
llm:
    engine: ollama
    ollama:
        url: http://127.0.0.1:1
sd:
    url: http://127.0.0.1:1
tts:
    url: http://127.0.0.1:1
worker:
    shutdown_timeout: 1s
audio:
    enabled: false
`, filepath.ToSlash(dir))

	cfgPath := filepath.Join(dir, "storyforge.yaml")
	if err := os.WriteFile(cfgPath, []byte(tempConfig), 0o644); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}

	// Cancel quickly to verify the startup and shutdown sequence
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		t.Fatalf("run() failed: %v", err)
	}

	for _, sub := range []string{"text", "audio", "images"} {
		if _, err := os.Stat(filepath.Join(dir, sub)); err != nil {
			t.Errorf("output dir %s not created: %v", sub, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "storyforge.db")); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte("llm:\n    engine: nope\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := run(context.Background(), cfgPath); err == nil {
		t.Fatal("expected error for unknown llm engine")
	}
}

func TestCheckWritable(t *testing.T) {
	dir := t.TempDir()
	if err := checkWritable(dir); err != nil {
		t.Fatalf("checkWritable(%s) = %v", dir, err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("probe file left behind: %v", entries)
	}
	if err := checkWritable(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing dir")
	}
}

func TestNewLLM(t *testing.T) {
	tr := tracker.New()
	rc := request.New(tr, request.ClientConfig{})

	cfg := config.DefaultConfig()
	p, err := newLLM(context.Background(), cfg, rc, tr)
	if err != nil {
		t.Fatalf("newLLM() = %v", err)
	}
	if _, ok := p.(*ollama.Client); !ok {
		t.Errorf("expected *ollama.Client without fallback, got %T", p)
	}

	cfg.LLM.Fallback = []string{"openai", "gemini"}
	cfg.LLM.OpenAI.Key = ""
	p, err = newLLM(context.Background(), cfg, rc, tr)
	if err != nil {
		t.Fatalf("newLLM() with fallback = %v", err)
	}
	if _, ok := p.(*failover.Provider); !ok {
		t.Errorf("expected *failover.Provider, got %T", p)
	}
}
