// Package enforcer keeps at most one route enabled per backend. Given the
// route a session is about to take, it plans which other active sessions must
// migrate and to which route. Planning is pure; the router executes plans.
package enforcer

import (
	"log/slog"

	"github.com/micro-nova/audioroute/internal/catalog"
	"github.com/micro-nova/audioroute/internal/models"
	"github.com/micro-nova/audioroute/internal/resolver"
	"github.com/micro-nova/audioroute/internal/session"
)

// DeriveCompatibleRoute returns the route an existing session on d1 (devices
// a1) must take so that it can coexist with a new session on d2 (devices a2).
//
// When the device sets overlap without being equal, the composite side is
// split: if all of its members share one backend the new route wins; if d1 is
// one of the members it is kept; otherwise a member that leaves no backend
// carrying two different routes is adopted, falling back to d2. In every other case d2 wins when it shares a backend with d1
// and d1 is kept when it does not.
func DeriveCompatibleRoute(cat *catalog.Catalog, d1 models.RouteID, a1 models.Device, d2 models.RouteID, a2 models.Device) models.RouteID {
	if a1 != a2 && a1.Overlaps(a2) {
		var members []models.RouteID
		switch {
		case a1.Count() > 1:
			members = cat.Split(d1)
		case a2.Count() > 1:
			members = cat.Split(d2)
		}
		if len(members) > 1 {
			if len(sharedBackends(cat, members)) == 1 {
				return d2
			}
			for _, m := range members {
				if m == d1 {
					return d1
				}
			}
			return adoptMember(cat, members, d2)
		}
	}
	if cat.BackendsMatch(d1, d2) {
		return d2
	}
	return d1
}

func sharedBackends(cat *catalog.Catalog, members []models.RouteID) map[string]bool {
	out := make(map[string]bool)
	for _, m := range members {
		for _, b := range cat.Backends(m) {
			out[b] = true
		}
	}
	return out
}

// adoptMember picks the member the existing session keeps. d2 is kept when it
// is a member; otherwise the first member that can stay enabled next to d2 is
// adopted, and d2 itself when none can.
func adoptMember(cat *catalog.Catalog, members []models.RouteID, d2 models.RouteID) models.RouteID {
	for _, m := range members {
		if m == d2 {
			return m
		}
	}
	for _, m := range members {
		if coexists(cat, m, d2) {
			return m
		}
	}
	return d2
}

// coexists reports whether every backend a and b have in common carries the
// same elementary route under both.
func coexists(cat *catalog.Catalog, a, b models.RouteID) bool {
	lanes := make(map[string]models.RouteID)
	for _, e := range cat.Elementary(b) {
		if r, ok := cat.Route(e); ok {
			lanes[r.Backend] = e
		}
	}
	for _, e := range cat.Elementary(a) {
		r, ok := cat.Route(e)
		if !ok {
			continue
		}
		if other, taken := lanes[r.Backend]; taken && other != e {
			return false
		}
	}
	return true
}

// Migration moves one session's route in one direction.
type Migration struct {
	Session *session.Session
	Input   bool
	From    models.RouteID
	To      models.RouteID
}

// Plan is the set of forced migrations a routing pass must execute, in
// registry order, alongside the initiating session's own switch.
type Plan struct {
	// Pair is the initiator's route pair, possibly downgraded.
	Pair       models.RoutePair
	Migrations []Migration
	// HeldBack is set when the initiator's output was downgraded because a
	// forced migration would have targeted an unavailable route.
	HeldBack bool
}

// Empty reports whether the plan migrates no other session.
func (p Plan) Empty() bool { return len(p.Migrations) == 0 }

// PlanPass computes the migrations needed for s to take pair. When force is
// set, sessions sharing a backend are re-applied even if their route equals
// the new one.
func PlanPass(v resolver.View, s *session.Session, pair models.RoutePair, force bool) Plan {
	plan := Plan{Pair: pair}
	playback, unavailable := PlanPlayback(v, s, pair.Out, force)
	if unavailable >= 0 {
		downgraded := resolver.Available(v, v.Catalog.DefaultOutput())
		slog.Warn("enforcer: migration target unavailable, holding back initiator",
			"usecase", s.Usecase, "requested", pair.Out, "downgraded", downgraded,
			"victim", playback[unavailable].Session.Usecase, "target", playback[unavailable].To)
		plan.HeldBack = true
		plan.Pair.Out = downgraded
		playback, unavailable = PlanPlayback(v, s, plan.Pair.Out, force)
		for unavailable >= 0 {
			// Still blocked: the victim follows the initiator.
			playback[unavailable].To = plan.Pair.Out
			unavailable = firstUnavailable(v, playback)
		}
	}
	plan.Migrations = append(plan.Migrations, playback...)
	plan.Migrations = append(plan.Migrations, PlanCapture(v, s, plan.Pair.In)...)
	return plan
}

// PlanPlayback returns, in registry order, every other session with an
// output route that shares a backend with out and must migrate. The second
// result is the index of the first migration whose target is unavailable,
// or -1.
func PlanPlayback(v resolver.View, s *session.Session, out models.RouteID, force bool) ([]Migration, int) {
	if out == models.RouteNone {
		return nil, -1
	}
	var migs []Migration
	for _, o := range v.Sessions {
		if o == s || !o.Kind.HasOutput() || o.Routes.Out == models.RouteNone {
			continue
		}
		if o.Routes.Out == out && !force {
			continue
		}
		if !v.Catalog.BackendsMatch(o.Routes.Out, out) {
			continue
		}
		to := DeriveCompatibleRoute(v.Catalog, o.Routes.Out, o.OutDevices, out, s.OutDevices)
		migs = append(migs, Migration{Session: o, From: o.Routes.Out, To: to})
	}
	return migs, firstUnavailable(v, migs)
}

func firstUnavailable(v resolver.View, migs []Migration) int {
	for i, m := range migs {
		if m.To != m.From && m.To != models.RouteNone && !resolver.IsAvailable(v, m.To) {
			return i
		}
	}
	return -1
}

// PlanCapture returns, in registry order, every other session with an input
// route that differs from in and shares its backend. Capture routes are never
// composite, so those sessions adopt in verbatim.
func PlanCapture(v resolver.View, s *session.Session, in models.RouteID) []Migration {
	if in == models.RouteNone {
		return nil
	}
	var migs []Migration
	for _, o := range v.Sessions {
		if o == s || !o.Kind.HasInput() || o.Routes.In == models.RouteNone || o.Routes.In == in {
			continue
		}
		if !v.Catalog.BackendsMatch(o.Routes.In, in) {
			continue
		}
		migs = append(migs, Migration{Session: o, Input: true, From: o.Routes.In, To: in})
	}
	return migs
}
