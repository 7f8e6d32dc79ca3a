package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/micro-nova/audioroute/internal/catalog"
	"github.com/micro-nova/audioroute/internal/hardware"
	"github.com/micro-nova/audioroute/internal/models"
	"github.com/micro-nova/audioroute/internal/offload"
	"github.com/micro-nova/audioroute/internal/session"
)

// StartSession registers a session and routes it. A session whose route
// could not be enabled stays registered in the no-route state; its id is
// returned together with the error so the caller can stop it.
func (e *Engine) StartSession(ctx context.Context, d models.Descriptor) (session.ID, error) {
	if err := d.Validate(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := session.New(d)
	id, err := e.reg.Add(s)
	if err != nil {
		return 0, err
	}
	if d.Offload {
		key := d.Config.BackendProfile
		if key == "" {
			key = d.Usecase
		}
		h, err := hardware.OpenWithRetry(ctx, e.gw, key, e.retry)
		if err != nil {
			_ = e.reg.Remove(id)
			return 0, models.ErrIO(fmt.Sprintf("open offload stream %s", key), err)
		}
		s.Handle = h
		e.workers[id] = offload.Start(s.Locker(), h)
	}
	slog.Info("router: session started", "session", id, "usecase", d.Usecase, "kind", d.Kind,
		"out", d.OutDevices, "in", d.InDevices)

	err = e.route(ctx, s, models.ReasonStart, 0)
	e.publish()
	return id, err
}

// StopSession releases a session's routes, unregisters it and re-resolves
// the remaining sessions so that routes it forced onto them are undone.
func (e *Engine) StopSession(ctx context.Context, id session.ID) error {
	e.mu.Lock()
	s, ok := e.reg.Find(id)
	if !ok {
		e.mu.Unlock()
		return models.ErrNotFound(fmt.Sprintf("session %s not found", id))
	}
	w := e.workers[id]
	delete(e.workers, id)

	s.Lock()
	if s.Routes != (models.RoutePair{}) {
		if err := e.gw.ClearCalibration(ctx, s.Usecase, s.Routes); err != nil {
			slog.Warn("router: clearing audio path failed", "usecase", s.Usecase, "err", err)
		}
	}
	if s.Routes.Out != models.RouteNone {
		e.disable(ctx, "stop", s.Routes.Out)
	}
	if s.Routes.In != models.RouteNone {
		e.disable(ctx, "stop", s.Routes.In)
	}
	s.Routes = models.RoutePair{}
	s.State = models.SessionNoRoute
	s.Unlock()

	_ = e.reg.Remove(id)
	e.focus.SessionReleased(s.Usecase, s.Kind)
	slog.Info("router: session stopped", "session", id, "usecase", s.Usecase)

	reason := models.ReasonSessionStopped
	if s.Kind.IsPriority() {
		reason = models.ReasonPriorityStopped
	}
	err := e.reresolveAll(ctx, reason, nil)
	e.publish()
	e.mu.Unlock()

	// The worker may be finishing a drain; never wait for it under the
	// routing lock.
	if w != nil {
		w.Stop()
	}
	if s.Handle != nil {
		if cerr := s.Handle.Close(); cerr != nil {
			slog.Warn("router: closing offload stream failed", "usecase", s.Usecase, "err", cerr)
		}
	}
	return err
}

// reresolveAll routes every session again, priority sessions first, then the
// rest in registry order. override, when set, may substitute the reason for
// individual sessions.
func (e *Engine) reresolveAll(ctx context.Context, reason models.RerouteReason, override func(*session.Session) (models.RerouteReason, bool)) error {
	all := e.reg.Iter()
	ordered := make([]*session.Session, 0, len(all))
	for _, s := range all {
		if s.Kind.IsPriority() {
			ordered = append(ordered, s)
		}
	}
	for _, s := range all {
		if !s.Kind.IsPriority() {
			ordered = append(ordered, s)
		}
	}
	var firstErr error
	for _, s := range ordered {
		if _, ok := e.reg.Find(s.ID()); !ok {
			continue
		}
		r := reason
		if override != nil {
			if o, ok := override(s); ok {
				r = o
			}
		}
		if err := e.route(ctx, s, r, 0); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Reroute changes the logical devices of a session in one direction and
// routes it again. force re-applies the route even if it is unchanged.
func (e *Engine) Reroute(ctx context.Context, id session.ID, devices models.Device, force bool) error {
	if err := devices.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.reg.Find(id)
	if !ok {
		return models.ErrInvalidArgument(fmt.Sprintf("unknown session %s", id))
	}
	if (devices.IsInput() && !s.Kind.HasInput()) || (!devices.IsInput() && !s.Kind.HasOutput()) {
		return models.ErrInvalidArgument(fmt.Sprintf("%s session takes no %s devices", s.Kind, devices))
	}
	if devices.IsInput() {
		s.InDevices = devices
	} else {
		s.OutDevices = devices
	}
	reason := models.ReasonDeviceChange
	if force {
		reason = models.ReasonForced
	}
	err := e.route(ctx, s, reason, 0)
	e.publish()
	return err
}

// RerouteWithReason routes a session again for reason, e.g. after an
// accessory reconnect.
func (e *Engine) RerouteWithReason(ctx context.Context, id session.ID, reason models.RerouteReason) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.reg.Find(id)
	if !ok {
		return models.ErrInvalidArgument(fmt.Sprintf("unknown session %s", id))
	}
	err := e.route(ctx, s, reason, 0)
	e.publish()
	return err
}

// UpdateStreamConfig replaces a session's stream configuration and
// re-applies its route.
func (e *Engine) UpdateStreamConfig(ctx context.Context, id session.ID, cfg models.StreamConfig) error {
	if cfg.SampleRate < 0 || cfg.BitWidth < 0 {
		return models.ErrInvalidArgument("negative sample rate or bit width")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.reg.Find(id)
	if !ok {
		return models.ErrInvalidArgument(fmt.Sprintf("unknown session %s", id))
	}
	s.Config = cfg
	err := e.route(ctx, s, models.ReasonStreamConfigChanged, 0)
	e.publish()
	return err
}

// Renegotiate re-applies a session's route after an encoder or format
// renegotiation.
func (e *Engine) Renegotiate(ctx context.Context, id session.ID) error {
	return e.RerouteWithReason(ctx, id, models.ReasonFormatRenegotiation)
}

// OnModeChange sets the global mode and re-resolves every session.
func (e *Engine) OnModeChange(ctx context.Context, mode models.Mode) error {
	if _, err := models.ParseMode(mode.String()); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if mode == e.mode {
		return nil
	}
	slog.Info("router: mode change", "from", e.mode, "to", mode)
	e.mode = mode
	err := e.reresolveAll(ctx, models.ReasonModeChange, nil)
	e.publish()
	return err
}

// OnCardState records a sound card going on- or offline and re-resolves
// every session.
func (e *Engine) OnCardState(ctx context.Context, card int, online bool) error {
	if card < 0 {
		return models.ErrInvalidArgument(fmt.Sprintf("invalid card %d", card))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.conn.Cards[card]; ok && prev == online {
		return nil
	}
	slog.Info("router: card state", "card", card, "online", online)
	e.conn.Cards[card] = online
	err := e.reresolveAll(ctx, models.ReasonHotplug, nil)
	e.publish()
	return err
}

// SetWirelessReady records the wireless output link state. On reconnect,
// sessions on a wireless route re-apply it even if it is unchanged.
func (e *Engine) SetWirelessReady(ctx context.Context, ready bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn.WirelessReady == ready {
		return nil
	}
	slog.Info("router: wireless link", "ready", ready)
	e.conn.WirelessReady = ready
	var override func(*session.Session) (models.RerouteReason, bool)
	if ready {
		override = func(s *session.Session) (models.RerouteReason, bool) {
			return models.ReasonAccessoryReconnect, e.usesRequirement(s.Routes.Out, catalog.RequiresWireless)
		}
	}
	err := e.reresolveAll(ctx, models.ReasonHotplug, override)
	e.publish()
	return err
}

// SetJackPresent records the headset jack state and re-resolves every session.
func (e *Engine) SetJackPresent(ctx context.Context, present bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn.JackPresent == present {
		return nil
	}
	slog.Info("router: headset jack", "present", present)
	e.conn.JackPresent = present
	err := e.reresolveAll(ctx, models.ReasonHotplug, nil)
	e.publish()
	return err
}

func (e *Engine) usesRequirement(id models.RouteID, req catalog.Requirement) bool {
	for _, m := range e.cat.Elementary(id) {
		if r, ok := e.cat.Route(m); ok && r.Requires == req {
			return true
		}
	}
	return false
}

// OffloadCommand queues a control command on an offloaded session's worker
// and waits for it outside the routing lock.
func (e *Engine) OffloadCommand(ctx context.Context, id session.ID, cmd offload.Command) error {
	e.mu.Lock()
	s, ok := e.reg.Find(id)
	w := e.workers[id]
	e.mu.Unlock()
	if !ok {
		return models.ErrInvalidArgument(fmt.Sprintf("unknown session %s", id))
	}
	if w == nil {
		return models.ErrInvalidArgument(fmt.Sprintf("session %s (%s) is not offloaded", id, s.Usecase))
	}
	return w.Do(ctx, cmd)
}

// withSession runs fn with the session lock held, taking the pre-lock gate,
// the global lock and the session lock in that order.
func (e *Engine) withSession(id session.ID, fn func(s *session.Session)) error {
	e.mu.Lock()
	s, ok := e.reg.Find(id)
	e.mu.Unlock()
	if !ok {
		return models.ErrInvalidArgument(fmt.Sprintf("unknown session %s", id))
	}

	s.PreLock()
	e.mu.Lock()
	if cur, ok := e.reg.Find(id); !ok || cur != s {
		e.mu.Unlock()
		s.PreUnlock()
		return models.ErrNotFound(fmt.Sprintf("session %s stopped", id))
	}
	s.Lock()
	s.PreUnlock()
	fn(s)
	s.Unlock()
	e.publish()
	e.mu.Unlock()
	return nil
}

// SetVolume sets a session's gain in [0, 1].
func (e *Engine) SetVolume(id session.ID, vol float64) error {
	if vol < 0 || vol > 1 {
		return models.ErrInvalidArgument(fmt.Sprintf("volume %v out of range [0, 1]", vol))
	}
	return e.withSession(id, func(s *session.Session) { s.SetVolume(vol) })
}

// SetStandby sets a session's standby flag.
func (e *Engine) SetStandby(id session.ID, standby bool) error {
	return e.withSession(id, func(s *session.Session) { s.SetStandby(standby) })
}

// Shutdown stops every session, most recent first.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	var ids []session.ID
	for _, s := range e.reg.Iter() {
		ids = append(ids, s.ID())
	}
	e.mu.Unlock()
	var firstErr error
	for i := len(ids) - 1; i >= 0; i-- {
		if err := e.StopSession(ctx, ids[i]); err != nil && !models.HasCode(err, models.CodeNotFound) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
