package tts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnknownSpeaker is returned for speaker names that are not a sample in the speaker directory.
var ErrUnknownSpeaker = errors.New("unknown speaker")

// Speakers lists the .wav reference samples in dir, sorted by name.
func Speakers(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read speaker dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ResolveSpeaker maps a speaker file name to an absolute path inside dir.
// Names containing path separators are rejected.
func ResolveSpeaker(dir, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrUnknownSpeaker, name)
	}
	if !strings.EqualFold(filepath.Ext(name), ".wav") {
		return "", fmt.Errorf("%w: %q is not a .wav sample", ErrUnknownSpeaker, name)
	}

	p, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSpeaker, name)
	}
	return p, nil
}
