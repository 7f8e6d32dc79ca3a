package session

import (
	"fmt"

	"github.com/micro-nova/audioroute/internal/models"
)

type slot struct {
	gen uint32
	s   *Session
}

// Registry is the ordered set of active sessions, stored in an arena of
// reusable slots. A usecase names one stream slot, so at most one session per
// usecase is registered at a time and FindByUsecase is unambiguous; a second
// session on an active usecase is DUPLICATE_SESSION until the first is
// removed. It is not safe for concurrent use; the routing engine guards it
// with its global lock.
type Registry struct {
	slots []slot
	free  []int
	order []ID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers s and returns its id. A session that is already registered,
// or whose usecase is already active, is rejected with DUPLICATE_SESSION.
func (r *Registry) Add(s *Session) (ID, error) {
	if s == nil {
		return 0, models.ErrInvalidArgument("nil session")
	}
	if s.id != 0 {
		return 0, models.ErrDuplicateSession(fmt.Sprintf("session %s already registered", s.id))
	}
	if other := r.FindByUsecase(s.Usecase); other != nil {
		return 0, models.ErrDuplicateSession(fmt.Sprintf("usecase %q already active as session %s", s.Usecase, other.id))
	}

	var idx int
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		// Generations start at 1 so that the zero ID is never valid.
		r.slots = append(r.slots, slot{gen: 1})
		idx = len(r.slots) - 1
	}
	sl := &r.slots[idx]
	sl.s = s
	s.id = newID(idx, sl.gen)
	r.order = append(r.order, s.id)
	return s.id, nil
}

// Remove unregisters the session. An unknown or stale id reports NOT_FOUND
// and leaves the registry untouched.
func (r *Registry) Remove(id ID) error {
	s, ok := r.Find(id)
	if !ok {
		return models.ErrNotFound(fmt.Sprintf("session %s not found", id))
	}
	sl := &r.slots[id.Index()]
	sl.s = nil
	sl.gen++
	r.free = append(r.free, id.Index())
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	s.id = 0
	return nil
}

// Find returns the session with the given id.
func (r *Registry) Find(id ID) (*Session, bool) {
	idx := id.Index()
	if id == 0 || idx >= len(r.slots) {
		return nil, false
	}
	sl := r.slots[idx]
	if sl.s == nil || sl.gen != id.Generation() {
		return nil, false
	}
	return sl.s, true
}

// Iter returns the active sessions in insertion order. The slice is a
// snapshot; removing sessions while ranging over it is safe.
func (r *Registry) Iter() []*Session {
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		if s, ok := r.Find(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of active sessions.
func (r *Registry) Len() int { return len(r.order) }

// FindByKind returns the first session of the given kind. Capture lookups
// return the most recently added capture session.
func (r *Registry) FindByKind(kind models.Kind) *Session {
	if kind == models.KindCapture {
		for i := len(r.order) - 1; i >= 0; i-- {
			if s, ok := r.Find(r.order[i]); ok && s.Kind == kind {
				return s
			}
		}
		return nil
	}
	for _, id := range r.order {
		if s, ok := r.Find(id); ok && s.Kind == kind {
			return s
		}
	}
	return nil
}

// FindByUsecase returns the active session running usecase.
func (r *Registry) FindByUsecase(usecase string) *Session {
	for _, id := range r.order {
		if s, ok := r.Find(id); ok && s.Usecase == usecase {
			return s
		}
	}
	return nil
}
