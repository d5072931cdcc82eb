package api

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"storyforge/pkg/probe"
	"storyforge/pkg/tracker"
)

// QueueInfo reports the worker's backlog. *jobs.Worker implements it.
type QueueInfo interface {
	QueueLength() int
}

type StatsHandler struct {
	tracker *tracker.Tracker
	queue   QueueInfo
	active  func() int
	started time.Time

	mu     sync.Mutex
	maxMem uint64
	probes []probe.Status
}

func NewStatsHandler(t *tracker.Tracker, queue QueueInfo, active func() int) *StatsHandler {
	return &StatsHandler{
		tracker: t,
		queue:   queue,
		active:  active,
		started: time.Now(),
	}
}

type BackendStatsDTO struct {
	APISuccess    int64     `json:"api_success"`
	APIZeroResult int64     `json:"api_zero"`
	APIFailures   int64     `json:"api_errors"`
	AvgMillis     int64     `json:"avg_ms"`
	SuccessRate   int64     `json:"success_rate"`
	LastError     string    `json:"last_error,omitempty"`
	LastCall      time.Time `json:"last_call"`
}

type ServerStats struct {
	MemoryMB    uint64 `json:"memory_mb"`
	MemoryMaxMB uint64 `json:"memory_max_mb"`
	Goroutines  int    `json:"goroutines"`
	UptimeSec   int64  `json:"uptime_sec"`
}

type WorkerStats struct {
	Queued int `json:"queued"`
	Active int `json:"active"`
}

type StatsResponse struct {
	Server   ServerStats                `json:"server"`
	Worker   WorkerStats                `json:"worker"`
	Backends map[string]BackendStatsDTO `json:"backends"`
	Probes   []probe.Status             `json:"probes,omitempty"`
}

// SetProbes records the startup check results shown with the stats.
func (h *StatsHandler) SetProbes(results []probe.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = probe.Statuses(results)
}

// HandleReset clears the per-backend counters.
func (h *StatsHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.tracker.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	h.mu.Lock()
	if ms.Sys > h.maxMem {
		h.maxMem = ms.Sys
	}
	maxMem := h.maxMem
	probes := h.probes
	h.mu.Unlock()

	resp := StatsResponse{
		Server: ServerStats{
			MemoryMB:    bToMb(ms.Sys),
			MemoryMaxMB: bToMb(maxMem),
			Goroutines:  runtime.NumGoroutine(),
			UptimeSec:   int64(time.Since(h.started).Seconds()),
		},
		Backends: make(map[string]BackendStatsDTO),
		Probes:   probes,
	}
	if h.queue != nil {
		resp.Worker.Queued = h.queue.QueueLength()
	}
	if h.active != nil {
		resp.Worker.Active = h.active()
	}

	for backend, stats := range h.tracker.Snapshot() {
		total := stats.APISuccess + stats.APIFailures
		rate := int64(0)
		if total > 0 {
			rate = (stats.APISuccess * 100) / total
		}
		resp.Backends[backend] = BackendStatsDTO{
			APISuccess:    stats.APISuccess,
			APIZeroResult: stats.APIZeroResult,
			APIFailures:   stats.APIFailures,
			AvgMillis:     stats.AvgMillis,
			SuccessRate:   rate,
			LastError:     stats.LastError,
			LastCall:      stats.LastCall,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
