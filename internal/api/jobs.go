package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"storyforge/pkg/jobs"
	"storyforge/pkg/model"
	"storyforge/pkg/store"
)

// Canceller cancels jobs. *jobs.Worker implements it.
type Canceller interface {
	Cancel(id string) (model.JobStatus, error)
}

// JobsHandler exposes job status, cancellation and history.
type JobsHandler struct {
	registry *jobs.Registry
	cancel   Canceller
	history  store.JobStore
}

// NewJobsHandler creates a JobsHandler. history may be nil.
func NewJobsHandler(registry *jobs.Registry, cancel Canceller, history store.JobStore) *JobsHandler {
	return &JobsHandler{registry: registry, cancel: cancel, history: history}
}

// JobsResponse is the payload of GET /api/jobs.
type JobsResponse struct {
	Jobs   []model.JobStatus `json:"jobs"`
	Active int               `json:"active"`
}

// HandleList handles GET /api/jobs
func (h *JobsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, JobsResponse{
		Jobs:   h.registry.List(),
		Active: h.registry.Active(),
	})
}

// HandleGet handles GET /api/jobs/{id}. Jobs pruned from memory are looked
// up in the history.
func (h *JobsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if st, ok := h.registry.Get(id); ok {
		writeJSON(w, http.StatusOK, st)
		return
	}
	if h.history != nil {
		st, err := h.history.GetJob(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, st)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("API: History lookup failed", "job_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeError(w, http.StatusNotFound, "job not found")
}

// HandleCancel handles POST /api/jobs/{id}/cancel
func (h *JobsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	st, err := h.cancel.Cancel(r.PathValue("id"))
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrNotCancellable):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "job": st})
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, st)
	}
}

// HandleHistory handles GET /api/jobs/history?limit=N
func (h *JobsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative number")
			return
		}
		limit = n
	}
	if h.history == nil {
		writeJSON(w, http.StatusOK, []model.JobStatus{})
		return
	}
	list, err := h.history.ListJobs(r.Context(), limit)
	if err != nil {
		slog.Error("API: History query failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []model.JobStatus{}
	}
	writeJSON(w, http.StatusOK, list)
}
