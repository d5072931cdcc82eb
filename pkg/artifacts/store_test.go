package artifacts

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s := New(filepath.Join(root, "text"), filepath.Join(root, "audio"), filepath.Join(root, "images"))
	require.NoError(t, s.EnsureDirs())
	return s
}

func writeSet(t *testing.T, s *Store, base string, withImage bool) {
	t.Helper()
	_, err := s.WriteText(base, "story\n")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.AudioPath(base), []byte("RIFF...."), 0o644))
	if withImage {
		_, err = s.WriteImage(base, []byte("png"))
		require.NoError(t, err)
	}
}

func TestDelete_RemovesExactlyThreeFiles(t *testing.T) {
	s := newStore(t)
	writeSet(t, s, "fox_20250101-120000_abcd1234_01", true)
	// Shares a prefix and must survive.
	writeSet(t, s, "fox_20250101-120000_abcd1234_011", true)

	deleted, err := s.Delete("fox_20250101-120000_abcd1234_01")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	assert.NoFileExists(t, s.TextPath("fox_20250101-120000_abcd1234_01"))
	assert.NoFileExists(t, s.AudioPath("fox_20250101-120000_abcd1234_01"))
	assert.NoFileExists(t, s.ImagePath("fox_20250101-120000_abcd1234_01"))

	assert.FileExists(t, s.TextPath("fox_20250101-120000_abcd1234_011"))
	assert.FileExists(t, s.AudioPath("fox_20250101-120000_abcd1234_011"))
	assert.FileExists(t, s.ImagePath("fox_20250101-120000_abcd1234_011"))
}

func TestDelete_ReportsMissingFiles(t *testing.T) {
	s := newStore(t)
	writeSet(t, s, "owl_x_01", false)

	deleted, err := s.Delete("owl_x_01")
	assert.Equal(t, 2, deleted)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Contains(t, err.Error(), "owl_x_01.png")

	deleted, err = s.Delete("owl_x_01")
	assert.Equal(t, 0, deleted)
	assert.Error(t, err)
}

func TestDelete_RejectsTraversal(t *testing.T) {
	s := newStore(t)
	for _, base := range []string{"", "..", "../text/x", `a\b`, "x.wav"} {
		_, err := s.Delete(base)
		assert.True(t, errors.Is(err, ErrInvalidName), "base %q: %v", base, err)
	}
}

func TestResolve(t *testing.T) {
	s := newStore(t)
	textDir, audioDir, imageDir := s.Dirs()

	tests := []struct {
		kind    Kind
		name    string
		want    string
		wantErr error
	}{
		{KindAudio, "a.wav", filepath.Join(audioDir, "a.wav"), nil},
		{KindAudio, "a.MP3", filepath.Join(audioDir, "a.MP3"), nil},
		{KindImage, "a.webp", filepath.Join(imageDir, "a.webp"), nil},
		{KindText, "a.txt", filepath.Join(textDir, "a.txt"), nil},
		{KindText, "a.wav", "", ErrBadExtension},
		{KindImage, "a.txt", "", ErrBadExtension},
		{KindAudio, "../config.yaml", "", ErrInvalidName},
		{KindAudio, "..", "", ErrInvalidName},
		{KindAudio, "sub/a.wav", "", ErrInvalidName},
		{Kind("video"), "a.mp4", "", ErrUnknownKind},
	}

	for _, tt := range tests {
		got, err := s.Resolve(tt.kind, tt.name)
		if tt.wantErr != nil {
			assert.True(t, errors.Is(err, tt.wantErr), "%s/%s: %v", tt.kind, tt.name, err)
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestList(t *testing.T) {
	s := newStore(t)
	writeSet(t, s, "old-one_20250101-000000_aaaaaaaa_01", true)
	writeSet(t, s, "new-one_20250102-000000_bbbbbbbb_01", false)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(s.AudioPath("x")), "notes.txt"), []byte("x"), 0o644))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(s.AudioPath("old-one_20250101-000000_aaaaaaaa_01"), old, old))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "new-one_20250102-000000_bbbbbbbb_01", entries[0].BaseName)
	assert.Equal(t, "new-one_20250102-000000_bbbbbbbb_01.wav", entries[0].Name)
	assert.Equal(t, "New One", entries[0].Title)
	assert.False(t, entries[0].HasImage)
	assert.True(t, entries[0].HasText)

	assert.Equal(t, "old-one_20250101-000000_aaaaaaaa_01", entries[1].BaseName)
	assert.True(t, entries[1].HasImage)
}

func TestList_MissingDir(t *testing.T) {
	s := New(t.TempDir()+"/t", t.TempDir()+"/missing", t.TempDir()+"/i")
	entries, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadStoryAndDiscard(t *testing.T) {
	s := newStore(t)
	writeSet(t, s, "cat_1", false)

	text, err := s.ReadStory("cat_1")
	require.NoError(t, err)
	assert.Equal(t, "story\n", text)

	require.NoError(t, s.Discard("cat_1"))
	assert.NoFileExists(t, s.TextPath("cat_1"))
	assert.NoFileExists(t, s.AudioPath("cat_1"))
	// Nothing left: still no error.
	assert.NoError(t, s.Discard("cat_1"))
}
