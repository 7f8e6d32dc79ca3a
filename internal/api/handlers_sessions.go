package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/micro-nova/audioroute/internal/models"
	"github.com/micro-nova/audioroute/internal/offload"
	"github.com/micro-nova/audioroute/internal/session"
)

func (h *Handlers) getSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": h.eng.Snapshot().Sessions})
}

func (h *Handlers) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := h.eng.Session(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// startSession registers and routes a session. A session that registered
// but could not be routed is reported with the routing error and its id in
// the Location header, so the caller can stop it.
func (h *Handlers) startSession(w http.ResponseWriter, r *http.Request) {
	var d models.Descriptor
	if err := decode(r, &d); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.eng.StartSession(r.Context(), d)
	if id != 0 {
		w.Header().Set("Location", "/api/sessions/"+strconv.FormatUint(uint64(id), 10))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := h.eng.Session(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *Handlers) stopSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.eng.StopSession(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rerouteRequest struct {
	Devices models.Device `json:"devices"`
	Force   bool          `json:"force"`
}

func (h *Handlers) reroute(w http.ResponseWriter, r *http.Request) {
	id, err := sessionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req rerouteRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.eng.Reroute(r.Context(), id, req.Devices, req.Force); err != nil {
		writeError(w, err)
		return
	}
	h.respondSession(w, id)
}

func (h *Handlers) setStreamConfig(w http.ResponseWriter, r *http.Request) {
	id, err := sessionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var cfg models.StreamConfig
	if err := decode(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	if err := h.eng.UpdateStreamConfig(r.Context(), id, cfg); err != nil {
		writeError(w, err)
		return
	}
	h.respondSession(w, id)
}

func (h *Handlers) setVolume(w http.ResponseWriter, r *http.Request) {
	id, err := sessionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Volume *float64 `json:"volume"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Volume == nil {
		writeError(w, models.ErrInvalidArgument("volume is required"))
		return
	}
	if err := h.eng.SetVolume(id, *req.Volume); err != nil {
		writeError(w, err)
		return
	}
	h.respondSession(w, id)
}

func (h *Handlers) setStandby(w http.ResponseWriter, r *http.Request) {
	id, err := sessionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Standby bool `json:"standby"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.eng.SetStandby(id, req.Standby); err != nil {
		writeError(w, err)
		return
	}
	h.respondSession(w, id)
}

// offloadCmd blocks until the command completes or the client goes away.
func (h *Handlers) offloadCmd(w http.ResponseWriter, r *http.Request) {
	id, err := sessionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	cmd, err := offload.ParseCommand(chi.URLParam(r, "cmd"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.eng.OffloadCommand(r.Context(), id, cmd); err != nil {
		writeError(w, err)
		return
	}
	h.respondSession(w, id)
}

func (h *Handlers) respondSession(w http.ResponseWriter, id session.ID) {
	info, err := h.eng.Session(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
