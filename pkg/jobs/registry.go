package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"storyforge/pkg/model"
)

var (
	// ErrNotFound is returned for unknown job IDs.
	ErrNotFound = errors.New("job not found")
	// ErrNotCancellable is returned when cancelling a job that already finished.
	ErrNotCancellable = errors.New("job is not cancellable")

	errNotQueued = errors.New("job is no longer queued")
)

// DefaultRetention is how many finished jobs the registry keeps in memory.
const DefaultRetention = 200

// Recorder persists status snapshots. The sqlite store implements it.
type Recorder interface {
	SaveJob(ctx context.Context, s model.JobStatus) error
}

type entry struct {
	status model.JobStatus
	ctx    context.Context
	cancel context.CancelFunc
}

// Registry is the single writer of job status. Readers always get copies.
type Registry struct {
	mu        sync.Mutex
	entries   map[string]*entry
	retention int
	bus       *EventBus
	recorder  Recorder
	now       func() time.Time
}

// NewRegistry creates a registry publishing on bus. recorder may be nil.
func NewRegistry(bus *EventBus, recorder Recorder, retention int) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if bus == nil {
		bus = NewEventBus(0)
	}
	return &Registry{
		entries:   make(map[string]*entry),
		retention: retention,
		bus:       bus,
		recorder:  recorder,
		now:       time.Now,
	}
}

// Bus returns the event bus the registry publishes on.
func (r *Registry) Bus() *EventBus {
	return r.bus
}

// Register records a new job in state queued.
func (r *Registry) Register(id string, req model.JobRequest) model.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{status: model.JobStatus{
		ID:         id,
		Request:    req,
		State:      model.JobQueued,
		ItemsTotal: req.Count,
		Message:    "Queued",
		CreatedAt:  r.now(),
	}}
	r.entries[id] = e
	r.commitLocked(e)
	r.pruneLocked()
	return e.status.Clone()
}

// Start moves a queued job to running and returns its cancellation token,
// derived from parent. A job cancelled while queued is not started.
func (r *Registry) Start(parent context.Context, id string) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.status.State != model.JobQueued {
		return nil, fmt.Errorf("%w: %s is %s", errNotQueued, id, e.status.State)
	}

	e.ctx, e.cancel = context.WithCancel(parent)
	now := r.now()
	e.status.State = model.JobRunning
	e.status.StartedAt = &now
	e.status.Message = "Running"
	r.commitLocked(e)
	return e.ctx, nil
}

// Update applies fn to the job's status and publishes the result.
func (r *Registry) Update(id string, fn func(*model.JobStatus)) (model.JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return model.JobStatus{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(&e.status)
	r.commitLocked(e)
	return e.status.Clone(), nil
}

// Finish sets a terminal state and releases the job's token.
func (r *Registry) Finish(id string, state model.JobState, msg string) (model.JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return model.JobStatus{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	now := r.now()
	e.status.State = state
	e.status.Message = msg
	e.status.FinishedAt = &now
	if e.cancel != nil {
		e.cancel()
	}
	r.commitLocked(e)
	r.pruneLocked()
	return e.status.Clone(), nil
}

// Cancel fires the job's token. A queued job is cancelled immediately; a
// running job becomes cancelling until the worker observes the token.
func (r *Registry) Cancel(id string) (model.JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return model.JobStatus{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	switch e.status.State {
	case model.JobQueued:
		now := r.now()
		e.status.State = model.JobCancelled
		e.status.Message = "Cancelled before start"
		e.status.FinishedAt = &now
	case model.JobRunning:
		e.status.State = model.JobCancelling
		e.status.Message = "Cancelling after the current item"
		e.cancel()
	case model.JobCancelling:
		return e.status.Clone(), nil
	default:
		return e.status.Clone(), fmt.Errorf("%w: %s is %s", ErrNotCancellable, id, e.status.State)
	}
	r.commitLocked(e)
	return e.status.Clone(), nil
}

// Get returns a copy of one job's status.
func (r *Registry) Get(id string) (model.JobStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return model.JobStatus{}, false
	}
	return e.status.Clone(), true
}

// List returns copies of all retained jobs, newest first.
func (r *Registry) List() []model.JobStatus {
	r.mu.Lock()
	out := make([]model.JobStatus, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.status.Clone())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Active counts jobs that are not yet terminal.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if !e.status.State.Terminal() {
			n++
		}
	}
	return n
}

// commitLocked publishes and persists the entry. Both happen under the lock
// so observers see transitions in order.
func (r *Registry) commitLocked(e *entry) {
	snap := e.status.Clone()
	r.bus.Publish(model.Event{
		Type:    model.EventJob,
		JobID:   snap.ID,
		Message: snap.Message,
		Level:   levelFor(snap.State),
		Job:     &snap,
	})

	if r.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.recorder.SaveJob(ctx, snap); err != nil {
		slog.Warn("Jobs: failed to persist status", "job_id", snap.ID, "error", err)
	}
}

// pruneLocked drops the oldest finished jobs beyond the retention limit.
func (r *Registry) pruneLocked() {
	var finished []*entry
	for _, e := range r.entries {
		if e.status.State.Terminal() {
			finished = append(finished, e)
		}
	}
	excess := len(finished) - r.retention
	if excess <= 0 {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].status.CreatedAt.Before(finished[j].status.CreatedAt)
	})
	for _, e := range finished[:excess] {
		delete(r.entries, e.status.ID)
	}
}

func levelFor(s model.JobState) model.Level {
	switch s {
	case model.JobCompleted:
		return model.LevelSuccess
	case model.JobCompletedWithWarnings, model.JobCancelling, model.JobCancelled:
		return model.LevelWarning
	case model.JobFailed:
		return model.LevelError
	default:
		return model.LevelInfo
	}
}
