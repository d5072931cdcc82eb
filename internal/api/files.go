package api

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"storyforge/pkg/artifacts"
	"storyforge/pkg/imageutil"
	"storyforge/pkg/model"
)

// Lister lists artifact sets. *artifacts.Store implements it.
type Lister interface {
	List() ([]model.ArtifactEntry, error)
}

// QueueRemover drops deleted files from the playback queue.
type QueueRemover interface {
	Remove(name string) int
}

// ChangeNotifier is told when files were added or removed.
type ChangeNotifier interface {
	FilesChanged()
}

// FilesHandler serves and deletes generated artifacts.
type FilesHandler struct {
	store    *artifacts.Store
	playback QueueRemover
	notify   ChangeNotifier
}

// NewFilesHandler creates a FilesHandler. playback and notify may be nil.
func NewFilesHandler(st *artifacts.Store, playback QueueRemover, notify ChangeNotifier) *FilesHandler {
	return &FilesHandler{store: st, playback: playback, notify: notify}
}

// HandleAudio handles GET /audio/{file}
func (h *FilesHandler) HandleAudio(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, artifacts.KindAudio)
}

// HandleImage handles GET /image/{file}
func (h *FilesHandler) HandleImage(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, artifacts.KindImage)
}

// HandleText handles GET /text/{file}
func (h *FilesHandler) HandleText(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	h.serve(w, r, artifacts.KindText)
}

func (h *FilesHandler) serve(w http.ResponseWriter, r *http.Request, kind artifacts.Kind) {
	path, ok := h.resolve(w, kind, r.PathValue("file"))
	if !ok {
		return
	}
	http.ServeFile(w, r, path)
}

// resolve maps the request to an existing file, writing the error response if not.
func (h *FilesHandler) resolve(w http.ResponseWriter, kind artifacts.Kind, name string) (string, bool) {
	path, err := h.store.Resolve(kind, name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		http.Error(w, "file not found", http.StatusNotFound)
		return "", false
	}
	if err != nil {
		slog.Error("Failed to stat artifact", "path", path, "error", err)
		http.Error(w, "internal processing error", http.StatusInternalServerError)
		return "", false
	}
	if info.IsDir() {
		http.Error(w, "path is a directory", http.StatusBadRequest)
		return "", false
	}
	return path, true
}

// HandleThumb handles GET /thumb/{file}: a small JPEG preview of an image.
func (h *FilesHandler) HandleThumb(w http.ResponseWriter, r *http.Request) {
	path, ok := h.resolve(w, artifacts.KindImage, r.PathValue("file"))
	if !ok {
		return
	}
	data, err := imageutil.Thumbnail(path, imageutil.ThumbWidth, imageutil.ThumbHeight)
	if err != nil {
		slog.Warn("Failed to build thumbnail", "path", path, "error", err)
		http.Error(w, "cannot decode image", http.StatusUnprocessableEntity)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "max-age=300")
	if _, err := w.Write(data); err != nil {
		slog.Debug("Failed to write thumbnail", "error", err)
	}
}

// HandleList handles GET /files/list
func (h *FilesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List()
	if err != nil {
		slog.Error("Failed to list artifacts", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// DeleteResponse reports the outcome of deleting one artifact set.
type DeleteResponse struct {
	Deleted int      `json:"deleted"`
	Errors  []string `json:"errors"`
}

// HandleDelete handles DELETE /files/{base}
func (h *FilesHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	base := r.PathValue("base")
	n, err := h.store.Delete(base)
	if errors.Is(err, artifacts.ErrInvalidName) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := DeleteResponse{Deleted: n, Errors: splitErrors(err)}
	if n > 0 {
		if h.playback != nil {
			h.playback.Remove(base + ".wav")
		}
		if h.notify != nil {
			h.notify.FilesChanged()
		}
		slog.Info("API: Deleted artifact set", "base", base, "files", n, "problems", len(resp.Errors))
	}

	status := http.StatusOK
	if n == 0 && errors.Is(err, fs.ErrNotExist) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, resp)
}

// splitErrors flattens an errors.Join result into messages.
func splitErrors(err error) []string {
	out := []string{}
	if err == nil {
		return out
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return append(out, strings.Split(err.Error(), "\n")...)
}
