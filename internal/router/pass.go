package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/micro-nova/audioroute/internal/devstate"
	"github.com/micro-nova/audioroute/internal/enforcer"
	"github.com/micro-nova/audioroute/internal/models"
	"github.com/micro-nova/audioroute/internal/resolver"
	"github.com/micro-nova/audioroute/internal/session"
)

// Pass states.
const (
	StateIdle          = "idle"
	StateResolving     = "resolving"
	StateEnforcing     = "enforcing"
	StateDisablingOld  = "disabling-old"
	StateEnablingNew   = "enabling-new"
	StateReconfiguring = "reconfiguring"
)

// maxEchoDepth bounds the echo-reference hop: a pass may trigger one extra
// capture pass, which may not trigger another.
const maxEchoDepth = 1

// pass is one routing request moving through the pass state machine.
type pass struct {
	id     string
	reason models.RerouteReason
	depth  int
	sm     *fsm.FSM
}

func newPass(reason models.RerouteReason, depth int) *pass {
	p := &pass{id: uuid.NewString(), reason: reason, depth: depth}
	working := []string{StateResolving, StateEnforcing, StateDisablingOld, StateEnablingNew, StateReconfiguring}
	p.sm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: "resolve", Src: []string{StateIdle}, Dst: StateResolving},
			{Name: "unchanged", Src: []string{StateResolving}, Dst: StateIdle},
			{Name: "enforce", Src: []string{StateResolving}, Dst: StateEnforcing},
			{Name: "disable", Src: []string{StateEnforcing}, Dst: StateDisablingOld},
			{Name: "enable", Src: []string{StateDisablingOld}, Dst: StateEnablingNew},
			{Name: "reconfigure", Src: []string{StateEnablingNew}, Dst: StateReconfiguring},
			{Name: "finish", Src: []string{StateReconfiguring}, Dst: StateIdle},
			{Name: "abort", Src: working, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				slog.Debug("router: pass state", "pass", p.id, "from", e.Src, "to", e.Dst, "event", e.Event)
			},
		},
	)
	return p
}

func (p *pass) step(ctx context.Context, event string) error {
	if err := p.sm.Event(ctx, event); err != nil {
		return models.ErrInconsistentState(fmt.Sprintf("router: pass %s: %s from %s: %v", p.id, event, p.sm.Current(), err))
	}
	return nil
}

// abort returns the pass to idle and passes cause through.
func (p *pass) abort(ctx context.Context, cause error) error {
	if p.sm.Current() != StateIdle {
		_ = p.sm.Event(ctx, "abort")
	}
	return cause
}

// hop is one direction of one session changing route within a pass.
type hop struct {
	s     *session.Session
	input bool
	from  models.RouteID
	to    models.RouteID
}

func (h hop) set(id models.RouteID) {
	if h.input {
		h.s.Routes.In = id
	} else {
		h.s.Routes.Out = id
	}
}

func routedState(s *session.Session) models.SessionState {
	if s.Routes == (models.RoutePair{}) {
		return models.SessionNoRoute
	}
	return models.SessionRouted
}

// route runs one routing pass for s. The global lock must be held.
func (e *Engine) route(ctx context.Context, s *session.Session, reason models.RerouteReason, depth int) error {
	if depth > maxEchoDepth {
		return models.ErrInconsistentState(fmt.Sprintf("router: echo-reference recursion depth %d for %s", depth, s.Usecase))
	}
	p := newPass(reason, depth)
	e.passes++
	start := time.Now()
	outChanged, changed, err := e.runPass(ctx, p, s)

	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case !changed:
		result = "unchanged"
	}
	e.metrics.Pass(reason.String(), result, time.Since(start))
	if err != nil {
		slog.Error("router: routing pass failed", "pass", p.id, "usecase", s.Usecase, "reason", reason, "err", err)
		return err
	}
	if changed && s.State == models.SessionRouted {
		e.focus.SessionRouted(s.Usecase, s.Kind, s.Routes)
	}
	if len(outChanged) > 0 {
		return e.echoHop(ctx, outChanged, depth)
	}
	return nil
}

// runPass reports the sessions whose output route changed and whether the
// pass did anything beyond resolving.
func (e *Engine) runPass(ctx context.Context, p *pass, s *session.Session) ([]*session.Session, bool, error) {
	if err := p.step(ctx, "resolve"); err != nil {
		return nil, false, err
	}
	v := e.view()
	res, err := resolver.Resolve(v, s, p.reason)
	if err != nil {
		return nil, false, p.abort(ctx, err)
	}
	if res.Fallback != nil {
		e.metrics.Fallback()
		slog.Warn("router: falling back", "pass", p.id, "usecase", s.Usecase, "err", res.Fallback)
	}
	if !res.Changed {
		if s.State != routedState(s) {
			s.State = routedState(s)
		}
		return nil, false, p.step(ctx, "unchanged")
	}

	if err := p.step(ctx, "enforce"); err != nil {
		return nil, false, p.abort(ctx, err)
	}
	plan := enforcer.PlanPass(v, s, res.Pair, p.reason == models.ReasonForced)
	if plan.HeldBack {
		e.metrics.HeldBack()
	}

	force := p.reason.Forces()
	var hops []hop
	for _, m := range plan.Migrations {
		e.metrics.Migration(m.Input)
		slog.Info("router: forced migration", "pass", p.id, "initiator", s.Usecase,
			"session", m.Session.Usecase, "input", m.Input, "from", m.From, "to", m.To)
		hops = append(hops, hop{s: m.Session, input: m.Input, from: m.From, to: m.To})
	}
	old := s.Routes
	if s.Kind.HasOutput() && (old.Out != plan.Pair.Out || force) {
		hops = append(hops, hop{s: s, from: old.Out, to: plan.Pair.Out})
	}
	if s.Kind.HasInput() && (old.In != plan.Pair.In || force) {
		hops = append(hops, hop{s: s, input: true, from: old.In, to: plan.Pair.In})
	}

	// Every session whose route moves is locked for the swap, in registry
	// order, and released before the global lock.
	touched := touchedSessions(e.reg.Iter(), hops)
	for _, t := range touched {
		t.Lock()
	}
	defer func() {
		for i := len(touched) - 1; i >= 0; i-- {
			touched[i].Unlock()
		}
	}()

	if err := p.step(ctx, "disable"); err != nil {
		return nil, false, p.abort(ctx, err)
	}
	for _, t := range touched {
		if t.Routes != (models.RoutePair{}) {
			if err := e.gw.ClearCalibration(ctx, t.Usecase, t.Routes); err != nil {
				slog.Warn("router: clearing audio path failed", "pass", p.id, "usecase", t.Usecase, "err", err)
			}
		}
	}
	for _, h := range hops {
		if h.from != models.RouteNone {
			e.disable(ctx, p.id, h.from)
		}
		h.set(models.RouteNone)
	}

	if err := p.step(ctx, "enable"); err != nil {
		return nil, false, p.abort(ctx, err)
	}
	for i, h := range hops {
		if h.to == models.RouteNone {
			continue
		}
		if _, err := e.table.Enable(ctx, h.to); err != nil {
			// Sessions not yet re-enabled keep no route; nothing they held
			// is still counted.
			for _, rest := range hops[i:] {
				rest.s.State = models.SessionNoRoute
			}
			for _, t := range touched {
				if t.State != models.SessionNoRoute {
					t.State = routedState(t)
				}
			}
			return nil, true, p.abort(ctx, err)
		}
		h.set(h.to)
	}
	for _, t := range touched {
		t.State = routedState(t)
	}

	if err := p.step(ctx, "reconfigure"); err != nil {
		return nil, true, p.abort(ctx, err)
	}
	var calErr error
	for _, t := range touched {
		if t == s || t.Routes == (models.RoutePair{}) {
			continue
		}
		if err := e.gw.ApplyCalibration(ctx, t.Usecase, t.Routes, t.Config); err != nil && calErr == nil {
			calErr = models.ErrIO(fmt.Sprintf("calibrate %s", t.Usecase), err)
		}
	}
	if s.Routes != (models.RoutePair{}) {
		if err := e.gw.ApplyCalibration(ctx, s.Usecase, s.Routes, s.Config); err != nil && calErr == nil {
			calErr = models.ErrIO(fmt.Sprintf("calibrate %s", s.Usecase), err)
		}
	}
	if calErr != nil {
		return nil, true, p.abort(ctx, calErr)
	}
	if err := p.step(ctx, "finish"); err != nil {
		return nil, true, err
	}

	var outChanged []*session.Session
	for _, h := range hops {
		if !h.input && h.from != h.to {
			outChanged = append(outChanged, h.s)
		}
	}
	slog.Debug("router: pass complete", "pass", p.id, "usecase", s.Usecase, "reason", p.reason,
		"in", s.Routes.In, "out", s.Routes.Out, "migrations", len(plan.Migrations), "held_back", plan.HeldBack)
	return outChanged, true, nil
}

// disable drops a reference; failures are logged because the count is
// already released and the pass continues.
func (e *Engine) disable(ctx context.Context, passID string, id models.RouteID) {
	_, err := e.table.Disable(ctx, id)
	if err == nil {
		return
	}
	var uf *devstate.UnderflowError
	if errors.As(err, &uf) {
		e.metrics.Underflow()
	}
	slog.Warn("router: disable failed", "pass", passID, "route", id, "err", err)
}

func touchedSessions(order []*session.Session, hops []hop) []*session.Session {
	in := make(map[*session.Session]bool, len(hops))
	for _, h := range hops {
		in[h.s] = true
	}
	var out []*session.Session
	for _, s := range order {
		if in[s] {
			out = append(out, s)
			delete(in, s)
		}
	}
	// The initiator may not be registered yet.
	for _, h := range hops {
		if in[h.s] {
			out = append(out, h.s)
			delete(in, h.s)
		}
	}
	return out
}

// echoHop re-routes echo-cancelling capture sessions whose reference output
// changed. It runs at most one level deep.
func (e *Engine) echoHop(ctx context.Context, changed []*session.Session, depth int) error {
	var targets []*session.Session
	for _, c := range e.reg.Iter() {
		if c.Kind != models.KindCapture || !c.EchoCancel || c.Routes.In == models.RouteNone {
			continue
		}
		res, err := resolver.Resolve(e.view(), c, models.ReasonEchoReference)
		if err != nil || !res.Changed {
			continue
		}
		targets = append(targets, c)
	}
	if len(targets) == 0 {
		return nil
	}
	if depth+1 > maxEchoDepth {
		return models.ErrInconsistentState(fmt.Sprintf("router: echo-reference hop from depth %d (outputs changed: %d)", depth, len(changed)))
	}
	for _, c := range targets {
		if err := e.route(ctx, c, models.ReasonEchoReference, depth+1); err != nil {
			return err
		}
	}
	return nil
}
