package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"storyforge/pkg/jobs"
	"storyforge/pkg/model"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// EventsHandler exposes the status event stream.
type EventsHandler struct {
	bus      *jobs.EventBus
	upgrader websocket.Upgrader
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(bus *jobs.EventBus) *EventsHandler {
	return &EventsHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// EventsResponse is the payload of GET /api/events.
type EventsResponse struct {
	Events []model.Event `json:"events"`
	Latest uint64        `json:"latest"`
}

func parseSince(r *http.Request) (uint64, bool) {
	v := r.URL.Query().Get("since")
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(v, 10, 64)
	return n, err == nil
}

// HandlePoll handles GET /api/events?since=N
func (h *EventsHandler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	since, ok := parseSince(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "since must be a sequence number")
		return
	}
	events, latest := h.bus.Since(since)
	writeJSON(w, http.StatusOK, EventsResponse{Events: events, Latest: latest})
}

// HandleWS handles GET /api/events/ws?since=N. Retained events after since
// are replayed first, then live events follow in order.
func (h *EventsHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	since, ok := parseSince(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "since must be a sequence number")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("Events: Upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Subscribe before reading the backlog so nothing falls in between.
	live, unsubscribe := h.bus.Subscribe(128)
	defer unsubscribe()
	backlog, _ := h.bus.Since(since)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	last := since
	send := func(ev model.Event) bool {
		if ev.Seq <= last {
			return true
		}
		last = ev.Seq
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(ev); err != nil {
			slog.Debug("Events: Client gone", "error", err)
			return false
		}
		return true
	}

	for _, ev := range backlog {
		if !send(ev) {
			return
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-live:
			if !ok || !send(ev) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
