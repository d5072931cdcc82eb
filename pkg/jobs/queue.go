package jobs

import (
	"log/slog"
	"sync"
	"time"

	"storyforge/pkg/model"
)

// Job is one queued generation request.
type Job struct {
	ID        string
	Request   model.JobRequest
	CreatedAt time.Time
}

// Queue is a FIFO of pending jobs with a wake-up signal for the worker.
type Queue struct {
	mu     sync.RWMutex
	queue  []*Job
	limit  int
	notify chan struct{}
}

// NewQueue creates a queue holding at most limit jobs (0 = unbounded).
func NewQueue(limit int) *Queue {
	return &Queue{
		queue:  make([]*Job, 0),
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// Enqueue appends a job. It reports false when the queue is full.
func (q *Queue) Enqueue(job *Job) bool {
	q.mu.Lock()
	if q.limit > 0 && len(q.queue) >= q.limit {
		q.mu.Unlock()
		return false
	}
	q.queue = append(q.queue, job)
	n := len(q.queue)
	q.mu.Unlock()

	slog.Info("JobQueue: Enqueued job", "job_id", job.ID, "count", job.Request.Count, "queue_len", n)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop retrieves and removes the next job from the queue.
func (q *Queue) Pop() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return nil
	}
	job := q.queue[0]
	q.queue[0] = nil
	q.queue = q.queue[1:]
	return job
}

// Remove drops the job with id from the queue, reporting whether it was queued.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, job := range q.queue {
		if job.ID == id {
			q.queue = append(q.queue[:i], q.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Drain empties the queue and returns what was pending.
func (q *Queue) Drain() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.queue
	q.queue = make([]*Job, 0)
	return pending
}

// Count returns the number of items in the queue.
func (q *Queue) Count() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.queue)
}

// Ready is signalled after every Enqueue.
func (q *Queue) Ready() <-chan struct{} {
	return q.notify
}
