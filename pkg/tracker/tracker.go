package tracker

import (
	"sync"
	"sync/atomic"
	"time"
)

// Tracker tracks call statistics per backend (ollama, sd, tts, ...).
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*BackendStats
}

// BackendStats holds metrics for one backend.
// Counters are accessed atomically; lastError and lastCall are guarded by mu.
type BackendStats struct {
	APISuccess    int64 `json:"api_success"`
	APIFailures   int64 `json:"api_failures"`
	APIZeroResult int64 `json:"api_zero_result"`
	TotalMillis   int64 `json:"total_ms"`

	mu        sync.Mutex
	lastError string
	lastCall  time.Time
}

// Snapshot is a copy of one backend's stats, safe to serialize.
type Snapshot struct {
	APISuccess    int64     `json:"api_success"`
	APIFailures   int64     `json:"api_failures"`
	APIZeroResult int64     `json:"api_zero_result"`
	AvgMillis     int64     `json:"avg_ms"`
	LastError     string    `json:"last_error,omitempty"`
	LastCall      time.Time `json:"last_call"`
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*BackendStats),
	}
}

// getStats returns the stats object for a backend, creating it if needed.
func (t *Tracker) getStats(backend string) *BackendStats {
	t.mu.RLock()
	s, ok := t.stats[backend]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[backend]; ok {
		return s
	}
	s = &BackendStats{}
	t.stats[backend] = s
	return s
}

// TrackAPISuccess records a successful call and its duration.
func (t *Tracker) TrackAPISuccess(backend string, took time.Duration) {
	s := t.getStats(backend)
	atomic.AddInt64(&s.APISuccess, 1)
	atomic.AddInt64(&s.TotalMillis, took.Milliseconds())
	s.mu.Lock()
	s.lastCall = time.Now()
	s.mu.Unlock()
}

// TrackAPIFailure records a failed call.
func (t *Tracker) TrackAPIFailure(backend string, err error) {
	s := t.getStats(backend)
	atomic.AddInt64(&s.APIFailures, 1)
	s.mu.Lock()
	s.lastCall = time.Now()
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()
}

// TrackAPIZero records a call that succeeded but returned nothing usable.
func (t *Tracker) TrackAPIZero(backend string) {
	atomic.AddInt64(&t.getStats(backend).APIZeroResult, 1)
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]Snapshot, len(t.stats))
	for k, v := range t.stats {
		success := atomic.LoadInt64(&v.APISuccess)
		snap := Snapshot{
			APISuccess:    success,
			APIFailures:   atomic.LoadInt64(&v.APIFailures),
			APIZeroResult: atomic.LoadInt64(&v.APIZeroResult),
		}
		if success > 0 {
			snap.AvgMillis = atomic.LoadInt64(&v.TotalMillis) / success
		}
		v.mu.Lock()
		snap.LastError = v.lastError
		snap.LastCall = v.lastCall
		v.mu.Unlock()
		result[k] = snap
	}
	return result
}

// Reset clears all counters.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = make(map[string]*BackendStats)
}
