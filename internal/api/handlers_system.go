package api

import (
	"net/http"

	"github.com/micro-nova/audioroute/internal/models"
)

func (h *Handlers) getSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.Snapshot())
}

// checkInvariants reports whether the reference counts agree with the routes
// of the active sessions.
func (h *Handlers) checkInvariants(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.CheckInvariants(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) setMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode *models.Mode `json:"mode"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Mode == nil {
		writeError(w, models.ErrInvalidArgument("mode is required"))
		return
	}
	if err := h.eng.OnModeChange(r.Context(), *req.Mode); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.eng.Snapshot())
}

func (h *Handlers) setCard(w http.ResponseWriter, r *http.Request) {
	card, err := intParam(r, "card")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Online bool `json:"online"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.eng.OnCardState(r.Context(), card, req.Online); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.eng.Snapshot())
}

func (h *Handlers) setWireless(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ready bool `json:"ready"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.eng.SetWirelessReady(r.Context(), req.Ready); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.eng.Snapshot())
}

func (h *Handlers) setJack(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Present bool `json:"present"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.eng.SetJackPresent(r.Context(), req.Present); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.eng.Snapshot())
}
