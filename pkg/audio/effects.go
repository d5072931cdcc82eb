package audio

import (
	"math"
	"time"

	"github.com/gopxl/beep/v2"
)

// SmoothVolume implements a Streamer that ramps its gain, used for the fade-in.
//
// SmoothVolume is not synchronized. Once handed to the speaker, every method
// must be called while holding speaker.Lock().
type SmoothVolume struct {
	Streamer beep.Streamer

	// targetVolume is the gain to approach, 0.0 to 1.0.
	targetVolume float64

	// currentGain is the actual multiplier being applied to the samples.
	currentGain float64

	// step is the amount gain changes per sample to reach targetVolume
	// over a specific time/sample window.
	step float64
}

// NewSmoothVolume creates a new SmoothVolume streamer.
func NewSmoothVolume(s beep.Streamer, initialVol float64) *SmoothVolume {
	return &SmoothVolume{
		Streamer:     s,
		targetVolume: initialVol,
		currentGain:  initialVol,
	}
}

// Stream applies the current gain and transitions towards the target gain.
// Note: This is called by the speaker goroutine while holding speaker.Lock().
func (s *SmoothVolume) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = s.Streamer.Stream(samples)

	targetGain := s.targetVolume

	for i := 0; i < n; i++ {
		// Update currentGain towards targetGain
		if s.currentGain != targetGain {
			if s.step == 0 {
				// Instantly jump if no smoothing step is defined (should not happen during fade)
				s.currentGain = targetGain
			} else {
				if s.currentGain < targetGain {
					s.currentGain += s.step
					if s.currentGain > targetGain {
						s.currentGain = targetGain
					}
				} else {
					s.currentGain -= s.step
					if s.currentGain < targetGain {
						s.currentGain = targetGain
					}
				}
			}
		}

		// Apply gain
		samples[i][0] *= s.currentGain
		samples[i][1] *= s.currentGain
	}

	return n, ok
}

func (s *SmoothVolume) Err() error {
	return s.Streamer.Err()
}

// SetTargetVolume updates the baseline volume level.
// Note: Must be called while holding speaker.Lock().
func (s *SmoothVolume) SetTargetVolume(vol, sampleRate float64, duration time.Duration) {
	if vol < 0 {
		vol = 0
	}
	s.targetVolume = vol
	s.updateStep(sampleRate, duration)
}

func (s *SmoothVolume) updateStep(sampleRate float64, duration time.Duration) {
	if duration <= 0 {
		s.step = 1.0 // Huge step to effectively jump in next Stream call
		return
	}
	numSamples := float64(sampleRate) * duration.Seconds()
	targetGain := s.targetVolume
	diff := math.Abs(targetGain - s.currentGain)
	if diff == 0 {
		s.step = 0
		return
	}
	s.step = diff / numSamples
}
