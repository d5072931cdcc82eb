// Package artifacts manages the text, audio and image files of generated stories.
package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"storyforge/pkg/model"
)

// Kind identifies one of the three artifact directories.
type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
	KindImage Kind = "image"
)

var (
	// ErrInvalidName is returned for names that are empty or escape the directory.
	ErrInvalidName = errors.New("invalid file name")
	// ErrBadExtension is returned for extensions not served for a kind.
	ErrBadExtension = errors.New("file extension not allowed")
	// ErrUnknownKind is returned for kinds other than text, audio and image.
	ErrUnknownKind = errors.New("unknown artifact kind")
)

var allowedExt = map[Kind]map[string]bool{
	KindAudio: {".wav": true, ".mp3": true},
	KindImage: {".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true},
	KindText:  {".txt": true},
}

// Store owns the three output directories.
type Store struct {
	textDir  string
	audioDir string
	imageDir string
}

// New creates a Store over the given directories.
func New(textDir, audioDir, imageDir string) *Store {
	return &Store{textDir: textDir, audioDir: audioDir, imageDir: imageDir}
}

// EnsureDirs creates the output directories.
func (s *Store) EnsureDirs() error {
	for _, d := range []string{s.textDir, s.audioDir, s.imageDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	return nil
}

// Dirs returns the text, audio and image directories.
func (s *Store) Dirs() (text, audio, image string) {
	return s.textDir, s.audioDir, s.imageDir
}

// TextPath returns the text file path for base.
func (s *Store) TextPath(base string) string { return filepath.Join(s.textDir, base+".txt") }

// AudioPath returns the audio file path for base.
func (s *Store) AudioPath(base string) string { return filepath.Join(s.audioDir, base+".wav") }

// ImagePath returns the image file path for base.
func (s *Store) ImagePath(base string) string { return filepath.Join(s.imageDir, base+".png") }

// WriteText writes the story text file and returns its path.
func (s *Store) WriteText(base, content string) (string, error) {
	if err := validBase(base); err != nil {
		return "", err
	}
	p := s.TextPath(base)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write text: %w", err)
	}
	return p, nil
}

// WriteImage writes PNG bytes and returns the path.
func (s *Store) WriteImage(base string, data []byte) (string, error) {
	if err := validBase(base); err != nil {
		return "", err
	}
	p := s.ImagePath(base)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	return p, nil
}

// ReadStory returns the content of the text file for base.
func (s *Store) ReadStory(base string) (string, error) {
	if err := validBase(base); err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.TextPath(base))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Resolve maps a requested file name to a path inside the kind's directory.
func (s *Store) Resolve(kind Kind, name string) (string, error) {
	exts, ok := allowedExt[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err := validName(name); err != nil {
		return "", err
	}
	if !exts[strings.ToLower(filepath.Ext(name))] {
		return "", fmt.Errorf("%w: %q", ErrBadExtension, name)
	}

	var dir string
	switch kind {
	case KindText:
		dir = s.textDir
	case KindAudio:
		dir = s.audioDir
	case KindImage:
		dir = s.imageDir
	}
	return filepath.Join(dir, name), nil
}

// List returns one entry per .wav file in the audio directory, newest first.
func (s *Store) List() ([]model.ArtifactEntry, error) {
	entries, err := os.ReadDir(s.audioDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []model.ArtifactEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read audio dir: %w", err)
	}

	out := make([]model.ArtifactEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		out = append(out, model.ArtifactEntry{
			Name:     e.Name(),
			BaseName: base,
			Title:    Title(base),
			HasImage: exists(s.ImagePath(base)),
			HasText:  exists(s.TextPath(base)),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Modified.Equal(out[j].Modified) {
			return out[i].Name > out[j].Name
		}
		return out[i].Modified.After(out[j].Modified)
	})
	return out, nil
}

// Delete removes the text, audio and image files of exactly base.
// It returns how many files were removed; every missing file or failed
// removal is reported in the joined error.
func (s *Store) Delete(base string) (int, error) {
	if err := validBase(base); err != nil {
		return 0, err
	}

	deleted := 0
	var errs []error
	for _, p := range []string{s.TextPath(base), s.AudioPath(base), s.ImagePath(base)} {
		if err := os.Remove(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(p), fs.ErrNotExist))
			} else {
				errs = append(errs, fmt.Errorf("remove %s: %w", filepath.Base(p), err))
			}
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

// Discard removes whatever files of base exist, ignoring missing ones.
// Used to clean up a partially written set.
func (s *Store) Discard(base string) error {
	if err := validBase(base); err != nil {
		return err
	}
	var errs []error
	for _, p := range []string{s.TextPath(base), s.AudioPath(base), s.ImagePath(base)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") ||
		name != filepath.Base(name) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func validBase(base string) error {
	if filepath.Ext(base) != "" && allowedAnyExt(filepath.Ext(base)) {
		return fmt.Errorf("%w: %q must not carry an extension", ErrInvalidName, base)
	}
	return validName(base)
}

func allowedAnyExt(ext string) bool {
	ext = strings.ToLower(ext)
	for _, m := range allowedExt {
		if m[ext] {
			return true
		}
	}
	return false
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
