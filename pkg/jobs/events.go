package jobs

import (
	"sync"
	"time"

	"storyforge/pkg/model"
)

// DefaultEventBuffer is how many events the bus keeps for polling clients.
const DefaultEventBuffer = 256

// EventBus fans status events out to pollers and subscribers.
// Sequence numbers start at 1 and increase by one per event.
type EventBus struct {
	mu     sync.Mutex
	seq    uint64
	ring   []model.Event
	size   int
	subs   map[int]chan model.Event
	nextID int
}

// NewEventBus creates a bus that retains the last size events.
func NewEventBus(size int) *EventBus {
	if size <= 0 {
		size = DefaultEventBuffer
	}
	return &EventBus{
		size: size,
		ring: make([]model.Event, 0, size),
		subs: make(map[int]chan model.Event),
	}
}

// Publish stamps ev with the next sequence number and delivers it.
// Subscribers that are not keeping up lose the event rather than block.
func (b *EventBus) Publish(ev model.Event) model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev.Seq = b.seq
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Job != nil {
		c := ev.Job.Clone()
		ev.Job = &c
	}

	if len(b.ring) < b.size {
		b.ring = append(b.ring, ev)
	} else {
		copy(b.ring, b.ring[1:])
		b.ring[len(b.ring)-1] = ev
	}

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Since returns retained events with Seq > seq and the latest sequence number.
// A client that fell behind the ring gets what is still retained.
func (b *EventBus) Since(seq uint64) ([]model.Event, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := []model.Event{}
	for _, ev := range b.ring {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out, b.seq
}

// Latest returns the last assigned sequence number.
func (b *EventBus) Latest() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Subscribe returns a channel receiving future events and a function that
// unsubscribes and closes it.
func (b *EventBus) Subscribe(buffer int) (<-chan model.Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan model.Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Status publishes a UI status line.
func (b *EventBus) Status(level model.Level, jobID, msg string) {
	b.Publish(model.Event{Type: model.EventStatus, Level: level, JobID: jobID, Message: msg})
}

// FilesChanged tells clients to refresh the artifact list.
func (b *EventBus) FilesChanged() {
	b.Publish(model.Event{Type: model.EventFilesChanged})
}
