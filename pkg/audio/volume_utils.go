package audio

import "math"

// volumeToPower maps a linear 0..1 level onto beep's base-2 exponent.
// Levels at or below 0.01 are handled by the Silent flag.
func volumeToPower(vol float64) float64 {
	if vol <= 0.01 {
		return -10
	}
	return math.Log2(vol)
}

func clampVolume(vol float64) float64 {
	return max(0, min(vol, 1))
}
