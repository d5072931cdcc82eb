package tts_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gopxl/beep/v2/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge/pkg/tts"
	"storyforge/pkg/tts/ttstest"
)

func TestWriteWAV_PassThrough(t *testing.T) {
	data := ttstest.WAV(t, 22050, 1)
	out := filepath.Join(t.TempDir(), "a.wav")

	res, err := tts.WriteWAV(data, 0, out)
	require.NoError(t, err)
	assert.Equal(t, "wav", res.Format)
	assert.Equal(t, 22050, res.SampleRate)
	assert.InDelta(t, 1.0, res.Duration.Seconds(), 0.01)
	assert.Equal(t, int64(len(data)), res.Bytes)

	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, written)
}

func TestWriteWAV_Resample(t *testing.T) {
	data := ttstest.WAV(t, 24000, 1)
	out := filepath.Join(t.TempDir(), "a.wav")

	res, err := tts.WriteWAV(data, 48000, out)
	require.NoError(t, err)
	assert.Equal(t, 48000, res.SampleRate)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	s, format, err := wav.Decode(f)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 48000, int(format.SampleRate))
	assert.InDelta(t, 48000, s.Len(), 1000)
}

func TestWriteWAV_Invalid(t *testing.T) {
	out := filepath.Join(t.TempDir(), "a.wav")

	_, err := tts.WriteWAV([]byte("short"), 0, out)
	assert.True(t, errors.Is(err, tts.ErrAudioTooSmall))

	_, err = tts.WriteWAV(make([]byte, tts.MinAudioSize*2), 0, out)
	assert.Error(t, err)
	assert.NoFileExists(t, out)
}

func TestLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tts.log")
	tts.SetLogPath(path)
	defer tts.SetLogPath("")

	tts.Log("XTTS", "/voices/anna.wav", "Hello", tts.Result{Bytes: 2048, SampleRate: 24000}, nil)
	tts.Log("XTTS", "/voices/anna.wav", "Again", tts.Result{}, errors.New("boom"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "speaker=anna.wav STATUS: OK 2048 bytes, 24000 Hz")
	assert.Contains(t, string(data), "ERROR(boom)")
}
