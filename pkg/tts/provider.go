package tts

import (
	"context"
	"errors"
	"time"
)

const (
	// MinAudioSize is the minimum size of a synthesized audio file (1KB).
	// Files smaller than this are likely failed synthesis attempts.
	MinAudioSize = 1024
)

// ErrAudioTooSmall is returned when the engine answered with less than MinAudioSize bytes.
var ErrAudioTooSmall = errors.New("synthesized audio is too small")

// Provider defines the interface for Text-To-Speech engines.
type Provider interface {
	// Synthesize speaks text with the voice cloned from speakerPath and writes
	// a WAV file to outputPath.
	Synthesize(ctx context.Context, text, speakerPath, outputPath string) (Result, error)

	// HealthCheck verifies the engine is reachable.
	HealthCheck(ctx context.Context) error
}

// Result describes a written audio file.
type Result struct {
	Format     string // "wav"
	SampleRate int
	Duration   time.Duration
	Bytes      int64
}
