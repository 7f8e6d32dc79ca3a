package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates and returns the control and diagnostics HTTP router.
// metrics may be nil, in which case /metrics is not served. guards wrap the
// /api routes, e.g. an access-control middleware.
func NewRouter(eng Engine, bus EventBus, metrics http.Handler, guards ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(middleware.CleanPath)

	h := &Handlers{eng: eng, events: bus}

	r.Group(func(r chi.Router) {
		r.Use(guards...)
		h.routes(r, bus != nil)
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

func (h *Handlers) routes(r chi.Router, sse bool) {
	// Routing state
	r.Get("/api", h.getSnapshot)
	r.Get("/api/", h.getSnapshot)
	r.Get("/api/invariants", h.checkInvariants)

	// Sessions
	r.Get("/api/sessions", h.getSessions)
	r.Post("/api/sessions", h.startSession)
	r.Get("/api/sessions/{sid}", h.getSession)
	r.Delete("/api/sessions/{sid}", h.stopSession)
	r.Patch("/api/sessions/{sid}/route", h.reroute)
	r.Patch("/api/sessions/{sid}/config", h.setStreamConfig)
	r.Patch("/api/sessions/{sid}/volume", h.setVolume)
	r.Patch("/api/sessions/{sid}/standby", h.setStandby)
	r.Post("/api/sessions/{sid}/offload/{cmd}", h.offloadCmd)

	// Global state
	r.Put("/api/mode", h.setMode)
	r.Put("/api/cards/{card}", h.setCard)
	r.Put("/api/wireless", h.setWireless)
	r.Put("/api/jack", h.setJack)

	// SSE
	if sse {
		r.Get("/api/subscribe", h.sseEvents)
	}
}

// corsMiddleware adds permissive CORS headers for local network access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
