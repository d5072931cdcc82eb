// Package playback keeps the server-side listening queue for generated stories.
package playback

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"storyforge/pkg/artifacts"
	"storyforge/pkg/audio"
	"storyforge/pkg/model"
)

// MaxQueue bounds the listening queue.
const MaxQueue = 100

var (
	// ErrQueueFull is returned by Enqueue once MaxQueue items are waiting.
	ErrQueueFull = errors.New("playback queue is full")
	// ErrNothingQueued is returned by Play when there is nothing to start.
	ErrNothingQueued = errors.New("nothing queued")
)

// Resolver maps an audio file name to a path. *artifacts.Store implements it.
type Resolver interface {
	Resolve(kind artifacts.Kind, name string) (string, error)
}

// Publisher receives playback events. *jobs.EventBus implements it.
type Publisher interface {
	Publish(ev model.Event) model.Event
}

// Item is one queued audio file.
type Item struct {
	Name     string        `json:"name"`
	Title    string        `json:"title"`
	Duration time.Duration `json:"duration"`
	path     string
}

// Status is a snapshot of the player and its queue.
type Status struct {
	Available bool    `json:"available"`
	Current   *Item   `json:"current,omitempty"`
	Playing   bool    `json:"playing"`
	Paused    bool    `json:"paused"`
	Position  float64 `json:"position_sec"`
	Length    float64 `json:"length_sec"`
	Volume    float64 `json:"volume"`
	Queue     []Item  `json:"queue"`
}

// Manager owns the listening queue and drives the player from it.
type Manager struct {
	mu      sync.Mutex
	queue   []Item
	current *Item
	gen     uint64

	player   audio.Player
	resolver Resolver
	events   Publisher
}

// NewManager creates a queue over player. events may be nil.
func NewManager(player audio.Player, resolver Resolver, events Publisher) *Manager {
	return &Manager{
		queue:    make([]Item, 0),
		player:   player,
		resolver: resolver,
		events:   events,
	}
}

// Enqueue adds an audio file. Priority items go to the front. An idle
// player starts right away.
func (m *Manager) Enqueue(name string, priority bool) (Item, error) {
	item, err := m.lookup(name)
	if err != nil {
		return Item{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) >= MaxQueue {
		return Item{}, ErrQueueFull
	}
	if priority {
		m.queue = append([]Item{item}, m.queue...)
	} else {
		m.queue = append(m.queue, item)
	}
	slog.Debug("PlaybackQueue: Enqueued", "name", item.Name, "priority", priority, "queue_len", len(m.queue))

	if m.current == nil && m.player.Available() {
		if err := m.startNextLocked(); err != nil {
			slog.Warn("PlaybackQueue: Autoplay failed", "error", err)
		}
	}
	return item, nil
}

// Play starts name immediately, or with an empty name resumes a paused
// item or starts the head of the queue.
func (m *Manager) Play(name string) error {
	if name != "" {
		item, err := m.lookup(name)
		if err != nil {
			return err
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		m.queue = append([]Item{item}, m.queue...)
		return m.startNextLocked()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		if m.player.IsPaused() {
			m.player.Resume()
			m.publish(model.LevelInfo, "Resumed "+m.current.Title)
		}
		return nil
	}
	return m.startNextLocked()
}

// Pause pauses the current item.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.player.Pause()
		m.publish(model.LevelInfo, "Paused "+m.current.Title)
	}
}

// Stop stops the current item and keeps the queue.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.publish(model.LevelInfo, "Playback stopped")
}

// Skip stops the current item and starts the next one, if any.
func (m *Manager) Skip() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	if len(m.queue) == 0 {
		m.publish(model.LevelInfo, "Playback queue finished")
		return nil
	}
	return m.startNextLocked()
}

// Clear empties the queue without touching the current item.
func (m *Manager) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.queue)
	m.queue = make([]Item, 0)
	return n
}

// SetVolume sets the output level (0.0 to 1.0).
func (m *Manager) SetVolume(vol float64) {
	m.player.SetVolume(vol)
}

// Remove drops every queued entry for name, e.g. after its files were deleted.
func (m *Manager) Remove(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.queue[:0]
	removed := 0
	for _, it := range m.queue {
		if it.Name == name {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	m.queue = kept
	return removed
}

// Status returns a snapshot of the player and queue.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Available: m.player.Available(),
		Volume:    m.player.Volume(),
		Queue:     append([]Item(nil), m.queue...),
	}
	if st.Queue == nil {
		st.Queue = []Item{}
	}
	if m.current != nil {
		cur := *m.current
		st.Current = &cur
		st.Paused = m.player.IsPaused()
		st.Playing = m.player.IsBusy() && !st.Paused
		st.Position = m.player.Position().Seconds()
		st.Length = m.player.Duration().Seconds()
	}
	return st
}

// Shutdown stops playback and releases the device.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.stopLocked()
	m.queue = nil
	m.mu.Unlock()
	m.player.Shutdown()
}

func (m *Manager) startNextLocked() error {
	if len(m.queue) == 0 {
		return ErrNothingQueued
	}
	item := m.queue[0]
	m.queue = m.queue[1:]

	m.gen++
	gen := m.gen
	if err := m.player.Play(item.path, func() { m.completed(gen) }); err != nil {
		m.current = nil
		m.publish(model.LevelError, fmt.Sprintf("Cannot play %s: %v", item.Title, err))
		return err
	}
	m.current = &item
	m.publish(model.LevelInfo, "Playing "+item.Title)
	return nil
}

func (m *Manager) completed(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.current = nil
	if len(m.queue) == 0 {
		m.publish(model.LevelInfo, "Playback queue finished")
		return
	}
	if err := m.startNextLocked(); err != nil {
		slog.Warn("PlaybackQueue: Failed to advance", "error", err)
	}
}

func (m *Manager) stopLocked() {
	m.gen++
	if m.current != nil {
		m.player.Stop()
		m.current = nil
	}
}

func (m *Manager) lookup(name string) (Item, error) {
	path, err := m.resolver.Resolve(artifacts.KindAudio, name)
	if err != nil {
		return Item{}, err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return Item{}, fmt.Errorf("%s: %w", name, fs.ErrNotExist)
	}

	item := Item{Name: name, Title: artifacts.Title(strings.TrimSuffix(name, filepath.Ext(name))), path: path}
	if d, err := audio.GetDuration(path); err == nil {
		item.Duration = d
	} else {
		slog.Debug("PlaybackQueue: Could not read duration", "name", name, "error", err)
	}
	return item, nil
}

func (m *Manager) publish(level model.Level, msg string) {
	if m.events == nil {
		return
	}
	m.events.Publish(model.Event{Type: model.EventPlayback, Level: level, Message: msg})
}
