// Package router implements the routing engine: the single owner of the
// session registry, the device state table, the global mode and the
// connectivity flags. Every lifecycle entry point runs under one global
// routing lock and drives routing passes through the resolver, the enforcer
// and the hardware gateway in a fixed order.
package router

import (
	"fmt"
	"sort"
	"sync"

	"github.com/micro-nova/audioroute/internal/catalog"
	"github.com/micro-nova/audioroute/internal/devstate"
	"github.com/micro-nova/audioroute/internal/events"
	"github.com/micro-nova/audioroute/internal/hardware"
	"github.com/micro-nova/audioroute/internal/metrics"
	"github.com/micro-nova/audioroute/internal/models"
	"github.com/micro-nova/audioroute/internal/offload"
	"github.com/micro-nova/audioroute/internal/resolver"
	"github.com/micro-nova/audioroute/internal/session"
)

// FocusHook receives routing notifications for an audio-focus or device
// manager integration. Calls are made under the global routing lock and
// must not call back into the engine.
type FocusHook interface {
	SessionRouted(usecase string, kind models.Kind, pair models.RoutePair)
	SessionReleased(usecase string, kind models.Kind)
}

type noFocus struct{}

func (noFocus) SessionRouted(string, models.Kind, models.RoutePair) {}
func (noFocus) SessionReleased(string, models.Kind)                 {}

// Engine is the routing context.
type Engine struct {
	mu sync.Mutex

	cat   *catalog.Catalog
	gw    hardware.Gateway
	table *devstate.Table
	reg   *session.Registry

	mode    models.Mode
	conn    models.Connectivity
	workers map[session.ID]*offload.Worker
	passes  uint64

	bus     *events.Bus
	metrics *metrics.Metrics
	focus   FocusHook
	retry   hardware.RetryPolicy
	strict  bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithBus publishes a snapshot on bus after every state change.
func WithBus(bus *events.Bus) Option { return func(e *Engine) { e.bus = bus } }

// WithMetrics records engine metrics on m.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithFocusHook injects an audio-focus integration.
func WithFocusHook(h FocusHook) Option { return func(e *Engine) { e.focus = h } }

// WithRetryPolicy bounds stream-open retries.
func WithRetryPolicy(p hardware.RetryPolicy) Option { return func(e *Engine) { e.retry = p } }

// Lenient makes refcount underflows log and continue instead of panicking.
func Lenient() Option { return func(e *Engine) { e.strict = false } }

// New creates the routing context for a catalog and gateway.
func New(cat *catalog.Catalog, gw hardware.Gateway, opts ...Option) *Engine {
	e := &Engine{
		cat:     cat,
		gw:      gw,
		reg:     session.NewRegistry(),
		workers: make(map[session.ID]*offload.Worker),
		conn:    models.Connectivity{Cards: make(map[int]bool)},
		focus:   noFocus{},
		retry:   hardware.DefaultRetryPolicy(),
		strict:  true,
	}
	for _, o := range opts {
		o(e)
	}
	tableOpts := []devstate.Option{devstate.WithTransitionHook(func(id models.RouteID, on bool) {
		e.metrics.Transition(string(id), on)
	})}
	if !e.strict {
		tableOpts = append(tableOpts, devstate.Lenient())
	}
	e.table = devstate.New(cat, gw, tableOpts...)
	return e
}

// Catalog returns the route catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.cat }

func (e *Engine) view() resolver.View {
	return resolver.View{
		Catalog:      e.cat,
		Mode:         e.mode,
		Connectivity: e.conn,
		Sessions:     e.reg.Iter(),
	}
}

// Mode returns the global audio mode.
func (e *Engine) Mode() models.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Session returns a view of one session.
func (e *Engine) Session(id session.ID) (models.SessionInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.reg.Find(id)
	if !ok {
		return models.SessionInfo{}, models.ErrNotFound(fmt.Sprintf("session %s not found", id))
	}
	return e.infoLocked(s), nil
}

// infoLocked adds the offload worker state to the session view. The global
// lock must be held.
func (e *Engine) infoLocked(s *session.Session) models.SessionInfo {
	info := s.Info()
	if w := e.workers[s.ID()]; w != nil {
		s.Lock()
		info.OffloadBusy = w.Busy()
		info.OffloadPending = w.Pending()
		s.Unlock()
	}
	return info
}

// Snapshot returns the current routing state.
func (e *Engine) Snapshot() models.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() models.Snapshot {
	sessions := e.reg.Iter()
	infos := make([]models.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, e.infoLocked(s))
	}
	return models.Snapshot{
		Variant:      e.cat.Variant(),
		Mode:         e.mode,
		Sessions:     infos,
		Devices:      e.table.Devices(),
		Connectivity: e.conn.DeepCopy(),
		Passes:       e.passes,
		RealHardware: e.gw.IsReal(),
	}
}

// RefCounts returns a copy of the device state table.
func (e *Engine) RefCounts() map[models.RouteID]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table.Snapshot()
}

func (e *Engine) publish() {
	e.metrics.SetSessions(e.reg.Len())
	if e.bus != nil {
		e.bus.Publish(e.snapshotLocked())
	}
}

// CheckInvariants verifies, between passes, that no backend carries two
// enabled routes and that every reference count is accounted for by exactly
// the routes sessions hold.
func (e *Engine) CheckInvariants() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.table.CheckExclusive(); err != nil {
		return err
	}
	want := make(map[models.RouteID]int)
	for _, s := range e.reg.Iter() {
		for _, id := range []models.RouteID{s.Routes.Out, s.Routes.In} {
			if id != models.RouteNone {
				want[id]++
			}
		}
		if s.State == models.SessionRouted && s.Routes == (models.RoutePair{}) {
			return models.ErrInconsistentState(fmt.Sprintf("session %s routed without routes", s.Usecase))
		}
	}
	// A split composite holds one reference on each member, however many
	// sessions share it.
	var split []models.RouteID
	for id := range want {
		if e.cat.IsComposite(id) && !e.table.IsDirect(id) {
			split = append(split, id)
		}
	}
	for _, id := range split {
		for _, m := range e.cat.Split(id) {
			want[m]++
		}
	}
	have := e.table.Snapshot()
	ids := make([]string, 0, len(want)+len(have))
	for id := range want {
		ids = append(ids, string(id))
	}
	for id := range have {
		if _, ok := want[id]; !ok {
			ids = append(ids, string(id))
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := models.RouteID(id)
		if want[r] != have[r] {
			return models.ErrInconsistentState(fmt.Sprintf("route %s: count %d, sessions hold %d", r, have[r], want[r]))
		}
	}
	return nil
}
