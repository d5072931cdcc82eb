// Package api serves the web form, artifact files and the JSON control API.
package api

import (
	"bufio"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"storyforge/pkg/logging"
	"storyforge/pkg/version"
)

//go:embed web
var webFS embed.FS

// NewServer creates and configures the HTTP server.
// Nil handlers leave their routes unregistered.
func NewServer(addr string, gen *GenerateHandler, files *FilesHandler, jobsH *JobsHandler, events *EventsHandler, playbackH *PlaybackHandler, stats *StatsHandler, cfgH *ConfigHandler, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Ambient
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)
	if stats != nil {
		mux.Handle("GET /api/stats", stats)
		mux.HandleFunc("POST /api/stats/reset", stats.HandleReset)
	}
	if cfgH != nil {
		mux.HandleFunc("GET /api/config", cfgH.HandleGet)
	}

	// 2. Form and submission
	mux.HandleFunc("GET /{$}", gen.HandleIndex)
	mux.HandleFunc("POST /generate", gen.HandleGenerate)
	mux.HandleFunc("GET /api/options", gen.HandleOptions)
	mux.HandleFunc("GET /api/prompt/random", gen.HandleRandomPrompt)

	// 3. Artifacts
	mux.HandleFunc("GET /audio/{file}", files.HandleAudio)
	mux.HandleFunc("GET /image/{file}", files.HandleImage)
	mux.HandleFunc("GET /text/{file}", files.HandleText)
	mux.HandleFunc("GET /thumb/{file}", files.HandleThumb)
	mux.HandleFunc("GET /files/list", files.HandleList)
	mux.HandleFunc("DELETE /files/{base}", files.HandleDelete)

	// 4. Jobs
	mux.HandleFunc("GET /api/jobs", jobsH.HandleList)
	mux.HandleFunc("GET /api/jobs/history", jobsH.HandleHistory)
	mux.HandleFunc("GET /api/jobs/{id}", jobsH.HandleGet)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", jobsH.HandleCancel)

	// 5. Events
	if events != nil {
		mux.HandleFunc("GET /api/events", events.HandlePoll)
		mux.HandleFunc("GET /api/events/ws", events.HandleWS)
	}

	// 6. Playback
	if playbackH != nil {
		mux.HandleFunc("GET /api/playback", playbackH.HandleStatus)
		mux.HandleFunc("POST /api/playback/{action}", playbackH.HandleAction)
	}

	// 7. Shutdown
	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Shutting down...")); err != nil {
			slog.Error("Failed to write shutdown response", "error", err)
		}
		// Let the response flush first
		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdown()
		}()
	})

	return &http.Server{
		Addr:              addr,
		Handler:           logRequests(mux),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// logRequests writes one line per request to the requests log.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.RequestLogger
		if logger == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		logger.Info("HTTP: Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"took", time.Since(start).Round(time.Microsecond),
			"remote", r.RemoteAddr)
	})
}
