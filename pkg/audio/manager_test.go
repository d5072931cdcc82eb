package audio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"

	"storyforge/pkg/tts/ttstest"
)

func TestNew(t *testing.T) {
	m := New(true, 0.8)
	if m == nil {
		t.Fatal("New returned nil")
	}
	if m.Volume() != 0.8 {
		t.Errorf("Expected volume 0.8, got %f", m.Volume())
	}
	if !m.Available() {
		t.Error("enabled manager should report available before first use")
	}
}

func TestManager_Disabled(t *testing.T) {
	m := New(false, 1)
	if m.Available() {
		t.Error("disabled manager reported available")
	}
	if err := m.Play("whatever.wav", nil); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	m.Stop()
	m.Shutdown()
}

func TestManager_NoDevice(t *testing.T) {
	m := New(true, 1)
	calls := 0
	m.initSpeaker = func(beep.SampleRate, int) error {
		calls++
		return errors.New("no such device")
	}

	path := filepath.Join(t.TempDir(), "a.wav")
	if err := os.WriteFile(path, ttstest.WAV(t, 22050, 0.1), 0o644); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if err := m.Play(path, nil); !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("device init should be attempted once, got %d", calls)
	}
	if m.Available() {
		t.Error("manager without device reported available")
	}
	if m.IsBusy() {
		t.Error("manager without device reported busy")
	}
}

func TestManager_StateAccessors(t *testing.T) {
	tests := []struct {
		name   string
		action func(*Manager)
		want   float64
	}{
		{"Default", func(*Manager) {}, 1.0},
		{"Volume Control", func(m *Manager) { m.SetVolume(0.5) }, 0.5},
		{"Volume Clamping Low", func(m *Manager) { m.SetVolume(-1) }, 0},
		{"Volume Clamping High", func(m *Manager) { m.SetVolume(3) }, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(true, 1)
			tt.action(m)
			if m.Volume() != tt.want {
				t.Errorf("expected volume %f, got %f", tt.want, m.Volume())
			}
			if m.IsPaused() || m.IsBusy() {
				t.Error("idle manager should be neither paused nor busy")
			}
			if m.Position() != 0 || m.Duration() != 0 {
				t.Error("idle manager should report zero position and duration")
			}
			m.Pause()
			m.Resume()
		})
	}
}

func TestVolumeToPower(t *testing.T) {
	if got := volumeToPower(1); got != 0 {
		t.Errorf("unity gain should be 0, got %f", got)
	}
	if got := volumeToPower(0.5); got != -1 {
		t.Errorf("half volume should be -1, got %f", got)
	}
	if got := volumeToPower(0); got != -10 {
		t.Errorf("silence should be -10, got %f", got)
	}
}

func TestGetDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")
	if err := os.WriteFile(path, ttstest.WAV(t, 16000, 0.5), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := GetDuration(path)
	if err != nil {
		t.Fatalf("GetDuration: %v", err)
	}
	if d < 490*time.Millisecond || d > 510*time.Millisecond {
		t.Errorf("expected ~500ms, got %v", d)
	}

	if _, err := GetDuration(filepath.Join(dir, "tone.ogg")); err == nil {
		t.Error("expected error for missing file")
	}
	other := filepath.Join(dir, "tone.flac")
	if err := os.WriteFile(other, []byte("fLaC"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := GetDuration(other); err == nil {
		t.Error("expected error for unsupported format")
	}
}
