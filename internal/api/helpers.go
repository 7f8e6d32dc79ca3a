// Package api implements the HTTP control and diagnostics API of the routing
// engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/micro-nova/audioroute/internal/models"
	"github.com/micro-nova/audioroute/internal/offload"
	"github.com/micro-nova/audioroute/internal/session"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	eng    Engine
	events EventBus
}

// Engine is the routing engine surface the handlers drive. *router.Engine
// implements it.
type Engine interface {
	StartSession(ctx context.Context, d models.Descriptor) (session.ID, error)
	StopSession(ctx context.Context, id session.ID) error
	Reroute(ctx context.Context, id session.ID, devices models.Device, force bool) error
	UpdateStreamConfig(ctx context.Context, id session.ID, cfg models.StreamConfig) error
	OffloadCommand(ctx context.Context, id session.ID, cmd offload.Command) error
	SetVolume(id session.ID, vol float64) error
	SetStandby(id session.ID, standby bool) error
	OnModeChange(ctx context.Context, mode models.Mode) error
	OnCardState(ctx context.Context, card int, online bool) error
	SetWirelessReady(ctx context.Context, ready bool) error
	SetJackPresent(ctx context.Context, present bool) error
	Session(id session.ID) (models.SessionInfo, error)
	Snapshot() models.Snapshot
	CheckInvariants() error
}

// EventBus is the interface for subscribing to routing snapshots.
type EventBus interface {
	Subscribe(id string) <-chan models.Snapshot
	Unsubscribe(id string)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an AppError as a JSON response.
func writeError(w http.ResponseWriter, err error) {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.Status, appErr)
		return
	}
	writeJSON(w, http.StatusInternalServerError, models.ErrInternal(err.Error()))
}

// decode reads a JSON request body into v.
func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		return models.ErrInvalidArgument("invalid JSON: " + err.Error())
	}
	return nil
}

// sessionParam reads the session id path parameter.
func sessionParam(r *http.Request) (session.ID, error) {
	n, err := strconv.ParseUint(chi.URLParam(r, "sid"), 10, 64)
	if err != nil {
		return 0, models.ErrInvalidArgument("invalid session id")
	}
	return session.ID(n), nil
}

// intParam reads an integer path parameter by name.
func intParam(r *http.Request, name string) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		return 0, models.ErrInvalidArgument("invalid " + name + " parameter")
	}
	return n, nil
}
