// Package audio plays generated narration on the local sound device.
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
)

// ErrUnavailable is returned when playback is disabled or no device could be opened.
var ErrUnavailable = errors.New("audio playback unavailable")

const (
	outputSampleRate = beep.SampleRate(48000)
	fadeIn           = 30 * time.Millisecond
)

// Player controls playback of a single file at a time.
type Player interface {
	// Play stops whatever is playing and starts path. onComplete runs when
	// the file plays to its end, not when it is stopped.
	Play(path string, onComplete func()) error
	Pause()
	Resume()
	Stop()
	SetVolume(vol float64)
	Volume() float64
	IsBusy() bool
	IsPaused() bool
	Position() time.Duration
	Duration() time.Duration
	Available() bool
	Shutdown()
}

// Manager implements Player using gopxl/beep.
type Manager struct {
	mu          sync.RWMutex
	enabled     bool
	initErr     error
	initialized bool
	volume      float64
	isPaused    bool
	generation  uint64

	ctrl          *beep.Ctrl
	volStreamer   *effects.Volume
	trackStreamer beep.StreamSeekCloser
	trackFormat   beep.Format

	initSpeaker func(beep.SampleRate, int) error
}

// New creates a Manager. A disabled manager rejects Play with ErrUnavailable.
func New(enabled bool, volume float64) *Manager {
	return &Manager{
		enabled:     enabled,
		volume:      clampVolume(volume),
		initSpeaker: speaker.Init,
	}
}

// Available reports whether playback can work. It is false when disabled or
// after the sound device failed to open.
func (m *Manager) Available() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled && m.initErr == nil
}

// Play starts playback of an audio file.
func (m *Manager) Play(path string, onComplete func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return ErrUnavailable
	}
	if err := m.ensureSpeakerLocked(); err != nil {
		return err
	}

	m.stopLocked()

	streamer, format, err := DecodeFile(path)
	if err != nil {
		return err
	}

	resampled := beep.Resample(3, format.SampleRate, outputSampleRate, streamer)
	smooth := NewSmoothVolume(resampled, 0)
	smooth.SetTargetVolume(1, float64(outputSampleRate), fadeIn)

	m.volStreamer = &effects.Volume{
		Streamer: smooth,
		Base:     2,
		Volume:   volumeToPower(m.volume),
		Silent:   m.volume <= 0.01,
	}
	m.trackStreamer = streamer
	m.trackFormat = format
	m.ctrl = &beep.Ctrl{Streamer: m.volStreamer}
	m.isPaused = false
	m.generation++
	gen := m.generation

	speaker.Play(beep.Seq(m.ctrl, beep.Callback(func() {
		// Never block the speaker goroutine.
		go m.finished(gen, onComplete)
	})))

	slog.Debug("Audio: Playing", "path", path, "duration", format.SampleRate.D(streamer.Len()))
	return nil
}

func (m *Manager) finished(gen uint64, onComplete func()) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.releaseLocked()
	m.mu.Unlock()

	if onComplete != nil {
		onComplete()
	}
}

// Pause pauses current playback.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctrl != nil {
		speaker.Lock()
		m.ctrl.Paused = true
		speaker.Unlock()
		m.isPaused = true
	}
}

// Resume resumes paused playback.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctrl != nil && m.isPaused {
		speaker.Lock()
		m.ctrl.Paused = false
		speaker.Unlock()
		m.isPaused = false
	}
}

// Stop stops current playback without firing the completion callback.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	m.generation++
	if m.ctrl != nil && m.initialized {
		speaker.Clear()
	}
	m.releaseLocked()
}

func (m *Manager) releaseLocked() {
	if m.trackStreamer != nil {
		if err := m.trackStreamer.Close(); err != nil {
			slog.Debug("Audio: Close failed", "error", err)
		}
		m.trackStreamer = nil
	}
	m.ctrl = nil
	m.volStreamer = nil
	m.trackFormat = beep.Format{}
	m.isPaused = false
}

func (m *Manager) ensureSpeakerLocked() error {
	if m.initErr != nil {
		return m.initErr
	}
	if m.initialized {
		return nil
	}
	if err := m.initSpeaker(outputSampleRate, outputSampleRate.N(time.Second/10)); err != nil {
		m.initErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
		slog.Warn("Audio: No output device, playback disabled", "error", err)
		return m.initErr
	}
	m.initialized = true
	return nil
}

// Shutdown stops playback and releases the device.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	if m.initialized {
		speaker.Close()
		m.initialized = false
	}
}

// IsBusy returns true if audio is loaded (playing or paused).
func (m *Manager) IsBusy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ctrl != nil
}

// IsPaused returns true if playback is paused.
func (m *Manager) IsPaused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isPaused
}

// SetVolume sets playback volume (0.0 to 1.0).
func (m *Manager) SetVolume(vol float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.volume = clampVolume(vol)
	if m.volStreamer != nil {
		speaker.Lock()
		m.volStreamer.Volume = volumeToPower(m.volume)
		m.volStreamer.Silent = m.volume <= 0.01
		speaker.Unlock()
	}
}

// Volume returns current volume level.
func (m *Manager) Volume() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.volume
}

// Position returns the current playback position.
func (m *Manager) Position() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.trackStreamer == nil || m.trackFormat.SampleRate == 0 {
		return 0
	}
	if m.initialized {
		speaker.Lock()
		defer speaker.Unlock()
	}
	return m.trackFormat.SampleRate.D(m.trackStreamer.Position())
}

// Duration returns the total duration of the current audio.
func (m *Manager) Duration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.trackStreamer == nil || m.trackFormat.SampleRate == 0 {
		return 0
	}
	return m.trackFormat.SampleRate.D(m.trackStreamer.Len())
}
