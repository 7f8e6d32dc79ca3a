// Package session holds the active audio sessions and the registry that
// orders them.
package session

import (
	"fmt"
	"sync"

	"github.com/micro-nova/audioroute/internal/hardware"
	"github.com/micro-nova/audioroute/internal/models"
)

// ID identifies a registered session. The low 32 bits index the registry
// slot, the high 32 bits carry the slot generation, so an ID held after its
// session was removed never resolves to the slot's next occupant.
type ID uint64

func newID(index int, gen uint32) ID { return ID(uint64(gen)<<32 | uint64(index)) }

// Index returns the registry slot of the id.
func (id ID) Index() int { return int(uint32(id)) }

// Generation returns the slot generation the id was issued for.
func (id ID) Generation() uint32 { return uint32(id >> 32) }

func (id ID) String() string { return fmt.Sprintf("%d.%d", id.Index(), id.Generation()) }

// Session is one active audio activity.
//
// Routing fields (devices, routes, config, state) are owned by the routing
// engine and only read or written under its global lock. Volume and standby
// are guarded by the session lock, which is taken after the pre-lock gate and
// the global lock, and released before the global lock.
type Session struct {
	gate sync.Mutex
	mu   sync.Mutex

	id ID

	Usecase    string
	Kind       models.Kind
	OutDevices models.Device
	InDevices  models.Device
	Config     models.StreamConfig
	Offload    bool
	EchoCancel bool

	Routes models.RoutePair
	State  models.SessionState

	// Handle is the open stream node of an offloaded session.
	Handle hardware.Handle

	volume  float64
	standby bool
}

// New creates an unregistered session from a validated descriptor.
func New(d models.Descriptor) *Session {
	return &Session{
		Usecase:    d.Usecase,
		Kind:       d.Kind,
		OutDevices: d.OutDevices,
		InDevices:  d.InDevices,
		Config:     d.Config,
		Offload:    d.Offload,
		EchoCancel: d.EchoCancel,
		State:      models.SessionNoRoute,
		volume:     1.0,
	}
}

// ID returns the registry id, or 0 while the session is unregistered.
func (s *Session) ID() ID { return s.id }

// PreLock acquires the pre-lock gate. It must be held while acquiring the
// global routing lock and may be released as soon as the session lock is held.
func (s *Session) PreLock() { s.gate.Lock() }

// PreUnlock releases the pre-lock gate.
func (s *Session) PreUnlock() { s.gate.Unlock() }

// Lock acquires the session lock.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// Locker exposes the session lock, e.g. for a condition variable shared with
// the offload worker.
func (s *Session) Locker() sync.Locker { return &s.mu }

// Volume returns the session gain. The session lock must be held.
func (s *Session) Volume() float64 { return s.volume }

// SetVolume sets the session gain. The session lock must be held.
func (s *Session) SetVolume(v float64) { s.volume = v }

// Standby reports whether the stream is in standby. The session lock must be held.
func (s *Session) Standby() bool { return s.standby }

// SetStandby sets the standby flag. The session lock must be held.
func (s *Session) SetStandby(v bool) { s.standby = v }

// Devices returns the logical devices for one direction.
func (s *Session) Devices(input bool) models.Device {
	if input {
		return s.InDevices
	}
	return s.OutDevices
}

// Info returns a read-only view of the session. The caller holds the global
// routing lock; Info takes the session lock itself.
func (s *Session) Info() models.SessionInfo {
	s.mu.Lock()
	vol, standby := s.volume, s.standby
	s.mu.Unlock()
	return models.SessionInfo{
		ID:         uint64(s.id),
		Usecase:    s.Usecase,
		Kind:       s.Kind,
		OutDevices: s.OutDevices,
		InDevices:  s.InDevices,
		Routes:     s.Routes,
		State:      s.State,
		Config:     s.Config,
		Offload:    s.Offload,
		EchoCancel: s.EchoCancel,
		Volume:     vol,
		Standby:    standby,
	}
}
