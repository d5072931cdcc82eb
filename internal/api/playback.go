package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"

	"storyforge/pkg/artifacts"
	"storyforge/pkg/audio"
	"storyforge/pkg/config"
	"storyforge/pkg/playback"
	"storyforge/pkg/store"
)

// PlaybackHandler controls server-side playback.
type PlaybackHandler struct {
	mgr   *playback.Manager
	state store.StateStore
}

// NewPlaybackHandler creates a PlaybackHandler. state may be nil.
func NewPlaybackHandler(mgr *playback.Manager, state store.StateStore) *PlaybackHandler {
	return &PlaybackHandler{mgr: mgr, state: state}
}

// PlaybackRequest is the optional body of playback actions.
type PlaybackRequest struct {
	Name     string   `json:"name"`
	Priority bool     `json:"priority"`
	Volume   *float64 `json:"volume"`
}

// HandleStatus handles GET /api/playback
func (h *PlaybackHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.Status())
}

// HandleAction handles POST /api/playback/{action}
func (h *PlaybackHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	var req PlaybackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	action := r.PathValue("action")
	var err error
	switch action {
	case "queue":
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		_, err = h.mgr.Enqueue(req.Name, req.Priority)
	case "play":
		err = h.mgr.Play(req.Name)
	case "pause":
		h.mgr.Pause()
	case "stop":
		h.mgr.Stop()
	case "skip":
		err = h.mgr.Skip()
	case "clear":
		h.mgr.Clear()
	case "volume":
		if req.Volume == nil {
			writeError(w, http.StatusBadRequest, "volume is required")
			return
		}
		h.mgr.SetVolume(*req.Volume)
		h.persistVolume(r, *req.Volume)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}

	if err != nil {
		writeError(w, playbackStatus(err), err.Error())
		return
	}
	slog.Debug("Playback control", "action", action, "name", req.Name)
	writeJSON(w, http.StatusOK, h.mgr.Status())
}

func (h *PlaybackHandler) persistVolume(r *http.Request, vol float64) {
	if h.state == nil {
		return
	}
	if err := h.state.SetState(r.Context(), config.KeyVolume, fmt.Sprintf("%.2f", vol)); err != nil {
		slog.Error("Failed to persist volume", "error", err)
	}
}

func playbackStatus(err error) int {
	switch {
	case errors.Is(err, artifacts.ErrInvalidName), errors.Is(err, artifacts.ErrBadExtension):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, playback.ErrQueueFull), errors.Is(err, playback.ErrNothingQueued):
		return http.StatusConflict
	case errors.Is(err, audio.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
