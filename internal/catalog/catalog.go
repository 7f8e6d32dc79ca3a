// Package catalog holds the static knowledge of physical routes: which
// backend each elementary route occupies and how composite routes split into
// elementary ones. A Catalog is immutable once built and safe for concurrent use.
package catalog

import (
	"fmt"
	"sort"

	"github.com/micro-nova/audioroute/internal/models"
)

// Direction is the signal direction of a route.
type Direction uint8

const (
	Out Direction = iota
	In
)

func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

// Requirement names a connectivity flag a route needs besides its card being online.
type Requirement string

const (
	RequiresNone     Requirement = ""
	RequiresWireless Requirement = "wireless"
	RequiresJack     Requirement = "jack"
)

// ElementaryRoute is an indivisible physical endpoint.
type ElementaryRoute struct {
	ID        models.RouteID
	Direction Direction
	Backend   string
	Profile   string // configuration profile applied by the hardware gateway
	Card      int
	Requires  Requirement
}

// CompositeRoute is a route request spanning several elementary routes.
type CompositeRoute struct {
	ID      models.RouteID
	Members []models.RouteID
}

// Catalog is the route table of one hardware variant.
type Catalog struct {
	variant       string
	routes        map[models.RouteID]ElementaryRoute
	composites    map[models.RouteID]CompositeRoute
	defaultOutput models.RouteID
	defaultInput  models.RouteID
}

// New validates and builds a catalog.
func New(variant string, routes []ElementaryRoute, composites []CompositeRoute, defaultOut, defaultIn models.RouteID) (*Catalog, error) {
	c := &Catalog{
		variant:       variant,
		routes:        make(map[models.RouteID]ElementaryRoute, len(routes)),
		composites:    make(map[models.RouteID]CompositeRoute, len(composites)),
		defaultOutput: defaultOut,
		defaultInput:  defaultIn,
	}
	for _, r := range routes {
		if r.ID == models.RouteNone {
			return nil, fmt.Errorf("catalog %s: route with empty id", variant)
		}
		if r.Backend == "" {
			return nil, fmt.Errorf("catalog %s: route %s has no backend", variant, r.ID)
		}
		if _, dup := c.routes[r.ID]; dup {
			return nil, fmt.Errorf("catalog %s: duplicate route %s", variant, r.ID)
		}
		c.routes[r.ID] = r
	}
	for _, cr := range composites {
		if _, dup := c.routes[cr.ID]; dup {
			return nil, fmt.Errorf("catalog %s: composite %s shadows an elementary route", variant, cr.ID)
		}
		if _, dup := c.composites[cr.ID]; dup {
			return nil, fmt.Errorf("catalog %s: duplicate composite %s", variant, cr.ID)
		}
		if len(cr.Members) < 2 {
			return nil, fmt.Errorf("catalog %s: composite %s needs at least two members", variant, cr.ID)
		}
		var dir Direction
		for i, m := range cr.Members {
			r, ok := c.routes[m]
			if !ok {
				return nil, fmt.Errorf("catalog %s: composite %s references unknown route %s", variant, cr.ID, m)
			}
			if i == 0 {
				dir = r.Direction
			} else if r.Direction != dir {
				return nil, fmt.Errorf("catalog %s: composite %s mixes directions", variant, cr.ID)
			}
		}
		c.composites[cr.ID] = CompositeRoute{ID: cr.ID, Members: append([]models.RouteID(nil), cr.Members...)}
	}
	if r, ok := c.routes[defaultOut]; !ok || r.Direction != Out {
		return nil, fmt.Errorf("catalog %s: default output %q is not an output route", variant, defaultOut)
	}
	if r, ok := c.routes[defaultIn]; !ok || r.Direction != In {
		return nil, fmt.Errorf("catalog %s: default input %q is not an input route", variant, defaultIn)
	}
	return c, nil
}

// Variant returns the hardware variant name.
func (c *Catalog) Variant() string { return c.variant }

// DefaultOutput is the built-in output used when nothing better is available.
func (c *Catalog) DefaultOutput() models.RouteID { return c.defaultOutput }

// DefaultInput is the built-in input used when nothing better is available.
func (c *Catalog) DefaultInput() models.RouteID { return c.defaultInput }

// Known reports whether id names an elementary or composite route.
func (c *Catalog) Known(id models.RouteID) bool {
	_, ok := c.routes[id]
	if ok {
		return true
	}
	_, ok = c.composites[id]
	return ok
}

// Route returns the elementary route with the given id.
func (c *Catalog) Route(id models.RouteID) (ElementaryRoute, bool) {
	r, ok := c.routes[id]
	return r, ok
}

// IsComposite reports whether id names a composite route.
func (c *Catalog) IsComposite(id models.RouteID) bool {
	_, ok := c.composites[id]
	return ok
}

// Split returns the elementary members of a composite route, or nil if id is
// not composite. The returned slice is a copy.
func (c *Catalog) Split(id models.RouteID) []models.RouteID {
	cr, ok := c.composites[id]
	if !ok {
		return nil
	}
	return append([]models.RouteID(nil), cr.Members...)
}

// Elementary returns the elementary routes id occupies: its members when
// composite, itself when elementary, nil when unknown.
func (c *Catalog) Elementary(id models.RouteID) []models.RouteID {
	if m := c.Split(id); m != nil {
		return m
	}
	if _, ok := c.routes[id]; ok {
		return []models.RouteID{id}
	}
	return nil
}

// Direction returns the direction of id. Unknown ids report Out.
func (c *Catalog) Direction(id models.RouteID) Direction {
	if cr, ok := c.composites[id]; ok {
		return c.routes[cr.Members[0]].Direction
	}
	return c.routes[id].Direction
}

// Backends returns the sorted set of backends id occupies.
func (c *Catalog) Backends(id models.RouteID) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range c.Elementary(id) {
		b := c.routes[m].Backend
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	sort.Strings(out)
	return out
}

// BackendsMatch reports whether a and b occupy at least one common backend.
func (c *Catalog) BackendsMatch(a, b models.RouteID) bool {
	if a == models.RouteNone || b == models.RouteNone {
		return false
	}
	ba := c.Backends(a)
	for _, x := range c.Backends(b) {
		for _, y := range ba {
			if x == y {
				return true
			}
		}
	}
	return false
}

// Routes returns all elementary routes sorted by id.
func (c *Catalog) Routes() []ElementaryRoute {
	out := make([]ElementaryRoute, 0, len(c.routes))
	for _, r := range c.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Composites returns all composite routes sorted by id.
func (c *Catalog) Composites() []CompositeRoute {
	out := make([]CompositeRoute, 0, len(c.composites))
	for _, cr := range c.composites {
		out = append(out, CompositeRoute{ID: cr.ID, Members: append([]models.RouteID(nil), cr.Members...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cards returns the sorted set of sound cards referenced by the catalog.
func (c *Catalog) Cards() []int {
	seen := make(map[int]bool)
	var out []int
	for _, r := range c.routes {
		if !seen[r.Card] {
			seen[r.Card] = true
			out = append(out, r.Card)
		}
	}
	sort.Ints(out)
	return out
}
