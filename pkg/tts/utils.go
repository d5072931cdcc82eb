package tts

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/gopxl/beep/v2/wav"
)

var (
	speakerLabelRegex = regexp.MustCompile(`(?m)^[ \t]*(?:\*\*)?[A-Za-z]+(\s*\([^)]+\))?(?:\*\*)?:(?:\*\*)?[ \t]*`)
	emphasisRegex     = regexp.MustCompile(`(\*{1,3}|_{2,3})([^*_\n]+?)(\*{1,3}|_{2,3})`)
	headingRegex      = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]*`)
	stageRegex        = regexp.MustCompile(`\[[^\]\n]{1,40}\]`)
	spaceRegex        = regexp.MustCompile(`[ \t]{2,}`)
)

// StripSpeakerLabels removes speaker labels like "Luna:" or "Aria (female):" from scripts.
func StripSpeakerLabels(script string) string {
	return speakerLabelRegex.ReplaceAllString(script, "")
}

// CleanForSpeech removes markdown that a TTS engine would read out literally.
// Conversation scripts additionally lose their speaker labels.
func CleanForSpeech(text string, conversation bool) string {
	if conversation {
		text = StripSpeakerLabels(text)
	}
	text = emphasisRegex.ReplaceAllString(text, "$2")
	text = headingRegex.ReplaceAllString(text, "")
	text = stageRegex.ReplaceAllString(text, "")
	text = strings.NewReplacer("*", "", "`", "", "~~", "").Replace(text)
	text = spaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// VerifyAudioFile checks that a synthesized file exists, is large enough and
// starts with a decodable WAV header.
func VerifyAudioFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("audio file missing: %w", err)
	}
	if info.Size() < MinAudioSize {
		return fmt.Errorf("%w: %s is %d bytes", ErrAudioTooSmall, path, info.Size())
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()
	streamer, _, err := wav.Decode(f)
	if err != nil {
		return fmt.Errorf("invalid wav file %s: %w", path, err)
	}
	return streamer.Close()
}
