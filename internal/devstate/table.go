// Package devstate implements the device state table: a reference count per
// route, with hardware enable/disable issued exactly once per 0↔1 edge and
// composite routes split into their elementary members.
//
// A Table is not safe for concurrent use; the routing engine serialises all
// access under its global lock.
package devstate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/micro-nova/audioroute/internal/catalog"
	"github.com/micro-nova/audioroute/internal/hardware"
	"github.com/micro-nova/audioroute/internal/models"
)

// Outcome reports what an Enable or Disable call did.
type Outcome struct {
	// Transitioned is true when the call crossed the 0↔1 edge and issued
	// hardware operations.
	Transitioned bool
}

// UnderflowError is a programming error: a route was disabled more times
// than it was enabled.
type UnderflowError struct {
	Route models.RouteID
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("devstate: refcount underflow on %s", e.Route)
}

// Is matches models.AppError values carrying the refcount-underflow code.
func (e *UnderflowError) Is(target error) bool {
	t, ok := target.(*models.AppError)
	return ok && t.Code == models.CodeRefcountUnderflow
}

// Table is the per-route reference-count table.
type Table struct {
	cat    *catalog.Catalog
	gw     hardware.Gateway
	counts map[models.RouteID]int
	direct map[models.RouteID]bool // composites enabled as one hardware path
	strict bool
	hook   func(id models.RouteID, enabled bool)
}

// Option configures a Table.
type Option func(*Table)

// Lenient makes Disable on a zero count log and return an UnderflowError
// instead of panicking.
func Lenient() Option {
	return func(t *Table) { t.strict = false }
}

// WithTransitionHook registers fn to be called on every hardware edge.
func WithTransitionHook(fn func(id models.RouteID, enabled bool)) Option {
	return func(t *Table) { t.hook = fn }
}

// New creates an empty table. Tables are strict by default: an underflow panics.
func New(cat *catalog.Catalog, gw hardware.Gateway, opts ...Option) *Table {
	t := &Table{
		cat:    cat,
		gw:     gw,
		counts: make(map[models.RouteID]int),
		direct: make(map[models.RouteID]bool),
		strict: true,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Enable takes a reference on id, powering it up on the first reference.
// A failed hardware enable is not counted and leaves no member of a composite
// route enabled.
func (t *Table) Enable(ctx context.Context, id models.RouteID) (Outcome, error) {
	if !t.cat.Known(id) {
		return Outcome{}, models.ErrInvalidArgument(fmt.Sprintf("unknown route %q", id))
	}
	t.counts[id]++
	// Already active: must be checked before splitting, or an active
	// composite would be re-split and its members re-referenced.
	if t.counts[id] > 1 {
		return Outcome{}, nil
	}

	if t.cat.IsComposite(id) {
		if de, ok := t.gw.(hardware.DirectEnabler); ok && de.CanEnableDirect(id) {
			if err := t.gw.Enable(ctx, id); err != nil {
				t.release(id)
				return Outcome{}, models.ErrIO(fmt.Sprintf("enable %s", id), err)
			}
			t.direct[id] = true
			t.edge(id, true)
			return Outcome{Transitioned: true}, nil
		}
		members := t.cat.Split(id)
		for i, m := range members {
			if _, err := t.Enable(ctx, m); err != nil {
				for j := i - 1; j >= 0; j-- {
					if _, rerr := t.Disable(ctx, members[j]); rerr != nil {
						slog.Error("devstate: rollback of composite member failed", "route", members[j], "err", rerr)
					}
				}
				t.release(id)
				return Outcome{}, err
			}
		}
		slog.Debug("devstate: composite enabled", "route", id, "members", members)
		return Outcome{Transitioned: true}, nil
	}

	if err := t.gw.Enable(ctx, id); err != nil {
		t.release(id)
		return Outcome{}, models.ErrIO(fmt.Sprintf("enable %s", id), err)
	}
	t.edge(id, true)
	return Outcome{Transitioned: true}, nil
}

// Disable drops a reference on id, powering it down on the last one. The
// count is decremented even when the hardware disable fails.
func (t *Table) Disable(ctx context.Context, id models.RouteID) (Outcome, error) {
	if t.counts[id] == 0 {
		err := &UnderflowError{Route: id}
		if t.strict {
			panic(err)
		}
		slog.Error("devstate: disable without reference, ignoring", "route", id)
		return Outcome{}, err
	}
	t.release(id)
	if t.counts[id] > 0 {
		return Outcome{}, nil
	}

	if t.cat.IsComposite(id) {
		if t.direct[id] {
			delete(t.direct, id)
			t.edge(id, false)
			if err := t.gw.Disable(ctx, id); err != nil {
				return Outcome{Transitioned: true}, models.ErrIO(fmt.Sprintf("disable %s", id), err)
			}
			return Outcome{Transitioned: true}, nil
		}
		var firstErr error
		for _, m := range t.cat.Split(id) {
			if _, err := t.Disable(ctx, m); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return Outcome{Transitioned: true}, firstErr
	}

	t.edge(id, false)
	if err := t.gw.Disable(ctx, id); err != nil {
		return Outcome{Transitioned: true}, models.ErrIO(fmt.Sprintf("disable %s", id), err)
	}
	return Outcome{Transitioned: true}, nil
}

func (t *Table) release(id models.RouteID) {
	t.counts[id]--
	if t.counts[id] == 0 {
		delete(t.counts, id)
	}
}

func (t *Table) edge(id models.RouteID, enabled bool) {
	if t.hook != nil {
		t.hook(id, enabled)
	}
}

// IsEnabled reports whether id holds at least one reference.
func (t *Table) IsEnabled(id models.RouteID) bool { return t.counts[id] > 0 }

// IsDirect reports whether the composite id is enabled as one hardware path
// rather than through its members.
func (t *Table) IsDirect(id models.RouteID) bool { return t.direct[id] }

// Count returns the reference count of id.
func (t *Table) Count(id models.RouteID) int { return t.counts[id] }

// Snapshot returns a copy of all non-zero reference counts.
func (t *Table) Snapshot() map[models.RouteID]int {
	out := make(map[models.RouteID]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

// Devices returns the table as a sorted list for publication.
func (t *Table) Devices() []models.DeviceInfo {
	out := make([]models.DeviceInfo, 0, len(t.counts))
	for id, n := range t.counts {
		info := models.DeviceInfo{Route: id, Count: n, Enabled: n > 0}
		if r, ok := t.cat.Route(id); ok {
			info.Backend = r.Backend
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	return out
}

// ActiveByBackend groups the powered-up elementary routes by backend. A
// composite enabled as one hardware path occupies each of its members' backends.
func (t *Table) ActiveByBackend() map[string][]models.RouteID {
	out := make(map[string][]models.RouteID)
	add := func(backend string, id models.RouteID) {
		for _, have := range out[backend] {
			if have == id {
				return
			}
		}
		out[backend] = append(out[backend], id)
	}
	for id, n := range t.counts {
		if n <= 0 {
			continue
		}
		if r, ok := t.cat.Route(id); ok {
			add(r.Backend, id)
			continue
		}
		if t.direct[id] {
			for _, m := range t.cat.Split(id) {
				r, _ := t.cat.Route(m)
				add(r.Backend, id)
			}
		}
	}
	for b := range out {
		sort.Slice(out[b], func(i, j int) bool { return out[b][i] < out[b][j] })
	}
	return out
}

// CheckExclusive returns an error naming the first backend that carries more
// than one enabled route. It must only be called between routing passes.
func (t *Table) CheckExclusive() error {
	active := t.ActiveByBackend()
	backends := make([]string, 0, len(active))
	for b := range active {
		backends = append(backends, b)
	}
	sort.Strings(backends)
	for _, b := range backends {
		if len(active[b]) > 1 {
			return models.ErrInconsistentState(fmt.Sprintf("backend %s carries %v", b, active[b]))
		}
	}
	return nil
}
