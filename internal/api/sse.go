package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/micro-nova/audioroute/internal/models"
)

// sseEvents streams routing snapshots. Clients receive the current state as a
// "snapshot" event, then one "pass" event per published routing change. The
// event id is the routing pass counter; a client resuming with Last-Event-ID
// at the current pass gets no initial snapshot.
func (h *Handlers) sseEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	id := uuid.New().String()
	ch := h.events.Subscribe(id)
	defer h.events.Unsubscribe(id)

	snap := h.eng.Snapshot()
	_, _ = fmt.Fprintf(w, "retry: %d\n", sseRetryMillis)
	if r.Header.Get("Last-Event-ID") != strconv.FormatUint(snap.Passes, 10) {
		sendSSE(w, "snapshot", snap)
	}
	flusher.Flush()

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return
			}
			sendSSE(w, "pass", snap)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

const sseRetryMillis = 2000

func sendSSE(w http.ResponseWriter, event string, snap models.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", event, snap.Passes, data)
}
