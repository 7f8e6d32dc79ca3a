// Package resolver computes the desired route pair of a session from its
// logical devices, the global mode, the routes of active priority sessions
// and route availability. Resolution never mutates state.
package resolver

import (
	"fmt"

	"github.com/micro-nova/audioroute/internal/catalog"
	"github.com/micro-nova/audioroute/internal/models"
	"github.com/micro-nova/audioroute/internal/session"
)

// View is the read-only routing state a resolution runs against.
type View struct {
	Catalog      *catalog.Catalog
	Mode         models.Mode
	Connectivity models.Connectivity
	// Sessions are the active sessions in registry order. The session being
	// resolved may or may not be among them.
	Sessions []*session.Session
}

// Resolution is the outcome of resolving one session.
type Resolution struct {
	Pair models.RoutePair
	// Changed is false when Pair equals the session's current routes and the
	// reason does not force a re-apply.
	Changed bool
	// Inherited is set when a direction copied a priority session's route.
	Inherited bool
	// Fallback is a HARDWARE_UNAVAILABLE error describing a route that was
	// replaced by a fallback; it does not fail the resolution.
	Fallback error
}

// Resolve computes the desired routes of s.
func Resolve(v View, s *session.Session, reason models.RerouteReason) (Resolution, error) {
	if v.Catalog == nil {
		return Resolution{}, models.ErrInconsistentState("resolver: no catalog")
	}
	var res Resolution
	var want models.RoutePair

	if s.Kind.IsPriority() {
		want.Out = priorityOutput(v, s)
		if s.Kind.HasInput() {
			want.In = priorityInput(v, s, want.Out)
		}
	} else {
		pri := ActivePriority(v, s)
		if s.Kind.HasOutput() {
			if pri != nil && pri.Routes.Out != models.RouteNone &&
				s.OutDevices.Classes()&pri.OutDevices.Classes() != 0 {
				want.Out = pri.Routes.Out
				res.Inherited = true
			} else {
				want.Out = outputRoute(s.OutDevices)
			}
		}
		if s.Kind.HasInput() {
			if pri != nil && pri.Routes.In != models.RouteNone &&
				s.InDevices.Classes()&priorityInClasses(pri) != 0 {
				want.In = pri.Routes.In
				res.Inherited = true
			} else {
				want.In = inputRoute(v, s, want.Out)
			}
		}
	}

	var fallbacks []string
	if s.Kind.HasOutput() {
		got := Available(v, want.Out)
		if got != want.Out {
			fallbacks = append(fallbacks, fmt.Sprintf("%s -> %s", want.Out, orNone(got)))
			want.Out = got
		}
	}
	if s.Kind.HasInput() {
		got := Available(v, want.In)
		if got != want.In {
			fallbacks = append(fallbacks, fmt.Sprintf("%s -> %s", want.In, orNone(got)))
			want.In = got
		}
	}
	if len(fallbacks) > 0 {
		res.Fallback = models.ErrHardwareUnavailable(fmt.Sprintf("%s: route unavailable, fell back %v", s.Usecase, fallbacks))
	}

	res.Pair = want
	res.Changed = want != s.Routes || reason.Forces()
	return res, nil
}

func orNone(id models.RouteID) models.RouteID {
	if id == models.RouteNone {
		return "none"
	}
	return id
}

// IsAvailable reports whether every elementary route behind id can currently
// be enabled. Card 0 is present unless reported offline; other cards only
// once reported online.
func IsAvailable(v View, id models.RouteID) bool {
	if id == models.RouteNone {
		return false
	}
	members := v.Catalog.Elementary(id)
	if len(members) == 0 {
		return false
	}
	for _, m := range members {
		r, _ := v.Catalog.Route(m)
		online, known := v.Connectivity.Cards[r.Card]
		if (known && !online) || (!known && r.Card != 0) {
			return false
		}
		switch r.Requires {
		case catalog.RequiresWireless:
			if !v.Connectivity.WirelessReady {
				return false
			}
		case catalog.RequiresJack:
			if !v.Connectivity.JackPresent {
				return false
			}
		}
	}
	return true
}

// Available returns id when it is available, else the first available member
// of a composite id, else the catalog default for the direction, else RouteNone.
func Available(v View, id models.RouteID) models.RouteID {
	if id == models.RouteNone {
		return models.RouteNone
	}
	if IsAvailable(v, id) {
		return id
	}
	for _, m := range v.Catalog.Split(id) {
		if IsAvailable(v, m) {
			return m
		}
	}
	def := v.Catalog.DefaultOutput()
	if v.Catalog.Direction(id) == catalog.In {
		def = v.Catalog.DefaultInput()
	}
	if def != id && IsAvailable(v, def) {
		return def
	}
	return models.RouteNone
}

var priorityRank = map[models.Kind]int{
	models.KindVoiceCall:       3,
	models.KindTelephonyBridge: 2,
	models.KindVoIP:            1,
}

// ActivePriority returns the routed priority session with the highest
// precedence, other than s.
func ActivePriority(v View, s *session.Session) *session.Session {
	var best *session.Session
	for _, o := range v.Sessions {
		if o == s || !o.Kind.IsPriority() || o.State != models.SessionRouted {
			continue
		}
		if best == nil || priorityRank[o.Kind] > priorityRank[best.Kind] {
			best = o
		}
	}
	return best
}

func priorityInClasses(pri *session.Session) models.DeviceClass {
	c := pri.InDevices.Classes()
	if pri.Kind == models.KindVoiceCall || pri.Kind == models.KindTelephonyBridge {
		c |= models.ClassCall
	}
	return c
}

func usesVoicePath(v View, s *session.Session) bool {
	return s.Kind == models.KindVoiceCall || s.Kind == models.KindTelephonyBridge || v.Mode.InCall()
}

func priorityOutput(v View, s *session.Session) models.RouteID {
	if usesVoicePath(v, s) {
		return voiceOutputRoute(s.OutDevices)
	}
	return outputRoute(s.OutDevices)
}

func priorityInput(v View, s *session.Session, out models.RouteID) models.RouteID {
	if usesVoicePath(v, s) {
		return voiceInputRoute(s.InDevices, out)
	}
	return aecInputRoute(v.Catalog, s.InDevices, out)
}

func inputRoute(v View, s *session.Session, ownOut models.RouteID) models.RouteID {
	if s.EchoCancel || v.Mode.InCommunication() {
		ref := ownOut
		if ref == models.RouteNone {
			ref = EchoReference(v, s)
		}
		return aecInputRoute(v.Catalog, s.InDevices, ref)
	}
	return plainInputRoute(s.InDevices)
}

// EchoReference returns the output route an echo-cancelling capture session
// of s would reference: the highest-precedence priority session's output,
// else the first routed output in registry order.
func EchoReference(v View, s *session.Session) models.RouteID {
	if pri := ActivePriority(v, s); pri != nil && pri.Routes.Out != models.RouteNone {
		return pri.Routes.Out
	}
	for _, o := range v.Sessions {
		if o != s && o.Kind.HasOutput() && o.Routes.Out != models.RouteNone {
			return o.Routes.Out
		}
	}
	return models.RouteNone
}
