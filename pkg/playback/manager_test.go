package playback

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"storyforge/pkg/artifacts"
	"storyforge/pkg/audio"
	"storyforge/pkg/model"
	"storyforge/pkg/tts/ttstest"
)

type fakePlayer struct {
	mu        sync.Mutex
	available bool
	playErr   error
	playing   string
	paused    bool
	volume    float64
	done      func()
	stops     int
}

func (p *fakePlayer) Play(path string, onComplete func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playErr != nil {
		return p.playErr
	}
	p.playing = path
	p.paused = false
	p.done = onComplete
	return nil
}

// finish simulates the track playing to its end.
func (p *fakePlayer) finish() {
	p.mu.Lock()
	done := p.done
	p.playing, p.done = "", nil
	p.mu.Unlock()
	if done != nil {
		done()
	}
}

func (p *fakePlayer) Pause()  { p.mu.Lock(); p.paused = true; p.mu.Unlock() }
func (p *fakePlayer) Resume() { p.mu.Lock(); p.paused = false; p.mu.Unlock() }
func (p *fakePlayer) Stop() {
	p.mu.Lock()
	p.playing, p.done = "", nil
	p.stops++
	p.mu.Unlock()
}
func (p *fakePlayer) SetVolume(v float64)     { p.mu.Lock(); p.volume = v; p.mu.Unlock() }
func (p *fakePlayer) Volume() float64         { p.mu.Lock(); defer p.mu.Unlock(); return p.volume }
func (p *fakePlayer) IsBusy() bool            { p.mu.Lock(); defer p.mu.Unlock(); return p.playing != "" }
func (p *fakePlayer) IsPaused() bool          { p.mu.Lock(); defer p.mu.Unlock(); return p.paused }
func (p *fakePlayer) Position() time.Duration { return 0 }
func (p *fakePlayer) Duration() time.Duration { return 0 }
func (p *fakePlayer) Available() bool         { return p.available }
func (p *fakePlayer) Shutdown()               {}

func (p *fakePlayer) current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return filepath.Base(p.playing)
}

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(ev model.Event) model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return ev
}

var _ audio.Player = (*fakePlayer)(nil)

func setup(t *testing.T, names ...string) (*Manager, *fakePlayer, *recorder) {
	t.Helper()
	root := t.TempDir()
	store := artifacts.New(filepath.Join(root, "t"), filepath.Join(root, "a"), filepath.Join(root, "i"))
	if err := store.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	wav := ttstest.WAV(t, 16000, 0.25)
	for _, n := range names {
		if err := os.WriteFile(store.AudioPath(n), wav, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	p := &fakePlayer{available: true, volume: 1}
	r := &recorder{}
	return NewManager(p, store, r), p, r
}

func TestManager_EnqueueAutoplaysAndAdvances(t *testing.T) {
	m, p, r := setup(t, "one", "two", "three")

	item, err := m.Enqueue("one.wav", false)
	if err != nil {
		t.Fatal(err)
	}
	if item.Title != "One" {
		t.Errorf("expected title One, got %q", item.Title)
	}
	if item.Duration < 200*time.Millisecond {
		t.Errorf("expected duration from file, got %v", item.Duration)
	}
	if got := p.current(); got != "one.wav" {
		t.Fatalf("expected one.wav to autoplay, got %q", got)
	}

	if _, err := m.Enqueue("two.wav", false); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Enqueue("three.wav", true); err != nil {
		t.Fatal(err)
	}
	st := m.Status()
	if len(st.Queue) != 2 || st.Queue[0].Name != "three.wav" {
		t.Fatalf("expected priority item at head, got %+v", st.Queue)
	}
	if st.Current == nil || st.Current.Name != "one.wav" || !st.Playing {
		t.Errorf("unexpected current %+v", st)
	}

	p.finish()
	if got := p.current(); got != "three.wav" {
		t.Errorf("expected three.wav next, got %q", got)
	}
	p.finish()
	p.finish()
	if m.Status().Current != nil {
		t.Error("queue should be exhausted")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 || r.events[len(r.events)-1].Message != "Playback queue finished" {
		t.Errorf("expected final queue-finished event, got %+v", r.events)
	}
}

func TestManager_SkipStopClear(t *testing.T) {
	m, p, _ := setup(t, "a", "b", "c")
	for _, n := range []string{"a.wav", "b.wav", "c.wav"} {
		if _, err := m.Enqueue(n, false); err != nil {
			t.Fatal(err)
		}
	}

	if err := m.Skip(); err != nil {
		t.Fatal(err)
	}
	if got := p.current(); got != "b.wav" {
		t.Errorf("skip should start b.wav, got %q", got)
	}

	m.Stop()
	if m.Status().Current != nil {
		t.Error("stop should clear current")
	}
	if n := len(m.Status().Queue); n != 1 {
		t.Errorf("stop should keep the queue, got %d", n)
	}

	if n := m.Clear(); n != 1 {
		t.Errorf("expected 1 cleared, got %d", n)
	}
	if err := m.Play(""); !errors.Is(err, ErrNothingQueued) {
		t.Errorf("expected ErrNothingQueued, got %v", err)
	}
}

func TestManager_PlayNamedAndResume(t *testing.T) {
	m, p, _ := setup(t, "a", "b")
	if _, err := m.Enqueue("a.wav", false); err != nil {
		t.Fatal(err)
	}

	if err := m.Play("b.wav"); err != nil {
		t.Fatal(err)
	}
	if got := p.current(); got != "b.wav" {
		t.Errorf("expected b.wav, got %q", got)
	}

	m.Pause()
	if !m.Status().Paused {
		t.Error("expected paused")
	}
	if err := m.Play(""); err != nil {
		t.Fatal(err)
	}
	if m.Status().Paused {
		t.Error("expected resumed")
	}
}

func TestManager_StaleCompletionIgnored(t *testing.T) {
	m, p, _ := setup(t, "a", "b")
	if _, err := m.Enqueue("a.wav", false); err != nil {
		t.Fatal(err)
	}
	p.mu.Lock()
	stale := p.done
	p.mu.Unlock()

	if err := m.Play("b.wav"); err != nil {
		t.Fatal(err)
	}
	stale()
	if got := m.Status().Current; got == nil || got.Name != "b.wav" {
		t.Errorf("stale completion changed current: %+v", got)
	}
}

func TestManager_Errors(t *testing.T) {
	m, p, _ := setup(t, "a")

	if _, err := m.Enqueue("missing.wav", false); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
	}
	if _, err := m.Enqueue("../a.wav", false); !errors.Is(err, artifacts.ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
	if _, err := m.Enqueue("a.txt", false); !errors.Is(err, artifacts.ErrBadExtension) {
		t.Errorf("expected ErrBadExtension, got %v", err)
	}

	p.available = false
	p.playErr = audio.ErrUnavailable
	if _, err := m.Enqueue("a.wav", false); err != nil {
		t.Fatalf("queueing works without a device: %v", err)
	}
	if err := m.Play(""); !errors.Is(err, audio.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if m.Status().Available {
		t.Error("status should report unavailable")
	}
}

func TestManager_Remove(t *testing.T) {
	m, p, _ := setup(t, "a", "b")
	p.available = false
	for _, n := range []string{"a.wav", "b.wav", "a.wav"} {
		if _, err := m.Enqueue(n, false); err != nil {
			t.Fatal(err)
		}
	}
	if n := m.Remove("a.wav"); n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if q := m.Status().Queue; len(q) != 1 || q[0].Name != "b.wav" {
		t.Errorf("unexpected queue %+v", q)
	}
}
