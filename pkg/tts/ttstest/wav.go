// Package ttstest builds WAV fixtures for tests.
package ttstest

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/generators"
	"github.com/gopxl/beep/v2/wav"
)

// WAV returns a mono 16-bit sine tone of the given length in seconds.
func WAV(t testing.TB, sampleRate int, seconds float64) []byte {
	t.Helper()
	sr := beep.SampleRate(sampleRate)
	tone, err := generators.SineTone(sr, 440)
	if err != nil {
		t.Fatalf("sine tone: %v", err)
	}
	n := int(math.Round(seconds * float64(sampleRate)))

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	format := beep.Format{SampleRate: sr, NumChannels: 1, Precision: 2}
	if err := wav.Encode(f, beep.Take(n, tone), format); err != nil {
		f.Close()
		t.Fatalf("encode wav: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
