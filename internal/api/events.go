package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

// KeepaliveInterval is how often an idle SSE stream gets a comment line.
var KeepaliveInterval = 15 * time.Second

type EventsHandler struct {
	live LiveDataSource
}

func NewEventsHandler(live LiveDataSource) *EventsHandler {
	return &EventsHandler{live: live}
}

// StreamEvents opens an SSE connection and pushes filtered events.
// ?types=analysis,suppressed limits the stream to those event kinds.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		WriteError(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}

	rc := http.NewResponseController(w)
	// The stream outlives the server's WriteTimeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("cannot clear write deadline")
	}
	filter := EventFilter{Types: QueryStringList(r, "types")}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := h.live.Subscribe(filter)
	defer cancel()

	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, e := range h.live.ReplaySince(lastEventID, filter) {
			writeEvent(w, e)
		}
	}
	if err := rc.Flush(); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("SSE flush unsupported")
		return
	}

	keepalive := time.NewTicker(KeepaliveInterval)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Strs("types", filter.Types).Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, event)
			rc.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			rc.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e SSEEvent) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
}

// Routes registers event routes on the given router.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events/stream", h.StreamEvents)
}
