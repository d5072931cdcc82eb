// Package jobs runs generation jobs on a single worker and tracks their status.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyforge/pkg/model"
)

var (
	// ErrClosed is returned by Submit once shutdown has begun.
	ErrClosed = errors.New("worker is shutting down")
	// ErrQueueFull is returned when the pending queue is at capacity.
	ErrQueueFull = errors.New("job queue is full")
	// ErrShutdownTimeout is returned when the worker did not stop in time.
	ErrShutdownTimeout = errors.New("worker did not stop before the shutdown timeout")
)

// Runner prepares requests and produces single items.
type Runner interface {
	Prepare(req *model.JobRequest) error
	RunItem(ctx context.Context, job *Job, index int) (ItemResult, error)
}

// Worker consumes the job queue on exactly one goroutine.
type Worker struct {
	runner   Runner
	registry *Registry
	queue    *Queue
	bus      *EventBus

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
	current string
	stop    chan struct{}
	done    chan struct{}
}

// NewWorker creates a worker. queueSize bounds pending jobs (0 = unbounded).
func NewWorker(runner Runner, registry *Registry, queueSize int) *Worker {
	return &Worker{
		runner:   runner,
		registry: registry,
		queue:    NewQueue(queueSize),
		bus:      registry.Bus(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Registry returns the status registry.
func (w *Worker) Registry() *Registry {
	return w.registry
}

// QueueLength returns the number of jobs waiting to start.
func (w *Worker) QueueLength() int {
	return w.queue.Count()
}

// Start launches the consumer goroutine. Cancelling ctx aborts in-flight
// backend calls.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return
	}
	w.started = true
	w.rootCtx, w.rootCancel = context.WithCancel(ctx)

	go w.run()
	slog.Info("Worker: Started")
}

// Submit validates req, registers it as queued and enqueues it.
func (w *Worker) Submit(req model.JobRequest) (model.JobStatus, error) {
	if err := w.runner.Prepare(&req); err != nil {
		return model.JobStatus{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return model.JobStatus{}, ErrClosed
	}
	if w.queue.limit > 0 && w.queue.Count() >= w.queue.limit {
		return model.JobStatus{}, ErrQueueFull
	}

	id := uuid.NewString()
	status := w.registry.Register(id, req)
	w.queue.Enqueue(&Job{ID: id, Request: req, CreatedAt: status.CreatedAt})
	w.bus.Status(model.LevelInfo, id, fmt.Sprintf("Job submitted (%d item%s)", req.Count, plural(req.Count)))
	return status, nil
}

// Cancel cancels a queued or running job.
func (w *Worker) Cancel(id string) (model.JobStatus, error) {
	st, err := w.registry.Cancel(id)
	if err != nil {
		return st, err
	}
	if st.State == model.JobCancelled {
		w.queue.Remove(id)
		w.bus.Status(model.LevelWarning, id, "Job cancelled before it started")
	} else {
		w.bus.Status(model.LevelWarning, id, "Cancelling job after the current item")
	}
	return st, nil
}

// Shutdown stops accepting jobs, cancels pending and running work and waits
// up to timeout for the worker goroutine. On timeout the root context is
// cancelled and ErrShutdownTimeout is returned.
func (w *Worker) Shutdown(timeout time.Duration) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	current := w.current
	w.mu.Unlock()

	for _, job := range w.queue.Drain() {
		if _, err := w.registry.Cancel(job.ID); err != nil {
			slog.Debug("Worker: Drained job not cancellable", "job_id", job.ID, "error", err)
		}
	}
	if current != "" {
		if _, err := w.registry.Cancel(current); err != nil {
			slog.Debug("Worker: Running job not cancellable", "job_id", current, "error", err)
		}
	}
	close(w.stop)

	if !started {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		slog.Info("Worker: Stopped")
		return nil
	case <-timer.C:
		w.rootCancel()
		slog.Warn("Worker: Shutdown timed out, aborting in-flight calls", "timeout", timeout)
		return ErrShutdownTimeout
	}
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.rootCancel()

	for {
		job := w.queue.Pop()
		if job == nil {
			select {
			case <-w.stop:
				return
			case <-w.queue.Ready():
				continue
			}
		}
		w.runJob(job)
	}
}

func (w *Worker) runJob(job *Job) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		_, _ = w.registry.Cancel(job.ID)
		return
	}
	token, err := w.registry.Start(w.rootCtx, job.ID)
	if err != nil {
		w.mu.Unlock()
		slog.Info("Worker: Skipping job", "job_id", job.ID, "reason", err)
		return
	}
	w.current = job.ID
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.current = ""
		w.mu.Unlock()
	}()

	count := job.Request.Count
	slog.Info("Worker: Job started", "job_id", job.ID, "count", count, "mode", job.Request.Mode, "model", job.Request.Model)
	w.bus.Publish(model.Event{Type: model.EventProgressStart, JobID: job.ID})

	ran, succeeded, failed, warned := 0, 0, 0, 0
	for i := 1; i <= count; i++ {
		if token.Err() != nil {
			break
		}
		ran++
		_, _ = w.registry.Update(job.ID, func(s *model.JobStatus) {
			s.Message = fmt.Sprintf("Generating item %d/%d", i, count)
		})

		res, err := w.runItem(job, i)
		if err != nil {
			failed++
			slog.Error("Worker: Item failed", "job_id", job.ID, "item", i, "error", err)
			_, _ = w.registry.Update(job.ID, func(s *model.JobStatus) {
				s.Errors++
				s.Message = fmt.Sprintf("Item %d/%d failed: %v", i, count, err)
			})
			w.bus.Status(model.LevelError, job.ID, fmt.Sprintf("Item %d/%d failed: %v", i, count, err))
			continue
		}

		succeeded++
		warned += len(res.Warnings)
		_, _ = w.registry.Update(job.ID, func(s *model.JobStatus) {
			s.ItemsDone++
			s.Warnings += len(res.Warnings)
			s.BaseNames = append(s.BaseNames, res.Story.BaseName)
			s.Message = fmt.Sprintf("Item %d/%d done: %s", i, count, res.Story.BaseName)
		})
		for _, warn := range res.Warnings {
			w.bus.Status(model.LevelWarning, job.ID, fmt.Sprintf("Item %d/%d: %s", i, count, warn))
		}
		w.bus.FilesChanged()
	}

	state, msg := finalState(token.Err() != nil && ran < count, count, succeeded, failed, warned)
	if _, err := w.registry.Finish(job.ID, state, msg); err != nil {
		slog.Warn("Worker: Failed to finish job", "job_id", job.ID, "error", err)
	}
	w.bus.Publish(model.Event{Type: model.EventProgressStop, JobID: job.ID})
	w.bus.Status(levelFor(state), job.ID, msg)
	slog.Info("Worker: Job finished", "job_id", job.ID, "state", state, "succeeded", succeeded, "failed", failed, "warnings", warned)
}

// runItem isolates one repeat so a panic only costs that item.
func (w *Worker) runItem(job *Job, index int) (res ItemResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Worker: Item panicked", "job_id", job.ID, "item", index, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.runner.RunItem(w.rootCtx, job, index)
}

// finalState picks the terminal state; the first matching rule wins.
func finalState(cancelled bool, count, succeeded, failed, warned int) (model.JobState, string) {
	switch {
	case cancelled:
		return model.JobCancelled, fmt.Sprintf("Cancelled after %d of %d items", succeeded, count)
	case succeeded == 0:
		return model.JobFailed, fmt.Sprintf("All %d items failed", count)
	case failed > 0 || warned > 0:
		return model.JobCompletedWithWarnings, fmt.Sprintf("Completed %d/%d items (%d errors, %d warnings)", succeeded, count, failed, warned)
	default:
		return model.JobCompleted, fmt.Sprintf("Completed %d item%s", succeeded, plural(succeeded))
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
