package tts

import (
	"bytes"
	"fmt"
	"os"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
)

// resampleQuality trades CPU for fidelity; 4 is beep's recommended default.
const resampleQuality = 4

// WriteWAV validates WAV bytes returned by an engine and writes them to
// outputPath. When targetRate is non-zero and differs from the source rate,
// the audio is resampled and re-encoded.
func WriteWAV(data []byte, targetRate int, outputPath string) (Result, error) {
	if len(data) < MinAudioSize {
		return Result{}, fmt.Errorf("%w: got %d bytes", ErrAudioTooSmall, len(data))
	}

	streamer, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("invalid wav data: %w", err)
	}
	defer streamer.Close()

	res := Result{
		Format:     "wav",
		SampleRate: int(format.SampleRate),
		Duration:   format.SampleRate.D(streamer.Len()),
	}

	if targetRate <= 0 || targetRate == int(format.SampleRate) {
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return Result{}, fmt.Errorf("failed to write audio: %w", err)
		}
		res.Bytes = int64(len(data))
		return res, nil
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create audio file: %w", err)
	}

	newFormat := format
	newFormat.SampleRate = beep.SampleRate(targetRate)
	resampled := beep.Resample(resampleQuality, format.SampleRate, newFormat.SampleRate, streamer)

	if err := wav.Encode(f, resampled, newFormat); err != nil {
		f.Close()
		_ = os.Remove(outputPath)
		return Result{}, fmt.Errorf("failed to encode resampled wav: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(outputPath)
		return Result{}, fmt.Errorf("failed to close audio file: %w", err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return Result{}, err
	}
	res.SampleRate = targetRate
	res.Bytes = info.Size()
	return res, nil
}
