// Package models defines the data structures shared by the routing engine,
// its collaborators and the control API.
package models

// SessionState is the routing state of a session.
type SessionState string

const (
	SessionRouted  SessionState = "routed"
	SessionNoRoute SessionState = "no-route"
)

// SessionInfo is a read-only view of one active session.
type SessionInfo struct {
	ID         uint64       `json:"id"`
	Usecase    string       `json:"usecase"`
	Kind       Kind         `json:"kind"`
	OutDevices Device       `json:"out_devices"`
	InDevices  Device       `json:"in_devices"`
	Routes     RoutePair    `json:"routes"`
	State      SessionState `json:"state"`
	Config     StreamConfig `json:"config"`
	Offload    bool         `json:"offload,omitempty"`
	EchoCancel bool         `json:"echo_cancel,omitempty"`
	Volume     float64      `json:"volume"`
	Standby    bool         `json:"standby"`
	// OffloadBusy and OffloadPending describe the offload command worker.
	OffloadBusy    bool `json:"offload_busy,omitempty"`
	OffloadPending int  `json:"offload_pending,omitempty"`
}

// DeviceInfo is the reference-count state of one route.
type DeviceInfo struct {
	Route   RouteID `json:"route"`
	Backend string  `json:"backend,omitempty"`
	Count   int     `json:"count"`
	Enabled bool    `json:"enabled"`
}

// Connectivity holds the hot-plug and accessory flags routing depends on.
type Connectivity struct {
	Cards         map[int]bool `json:"cards"`
	WirelessReady bool         `json:"wireless_ready"`
	JackPresent   bool         `json:"jack_present"`
}

// DeepCopy returns a deep copy of c.
func (c Connectivity) DeepCopy() Connectivity {
	cp := c
	cp.Cards = make(map[int]bool, len(c.Cards))
	for k, v := range c.Cards {
		cp.Cards[k] = v
	}
	return cp
}

// Snapshot is the routing state published after every routing pass.
type Snapshot struct {
	Variant      string        `json:"variant"`
	Mode         Mode          `json:"mode"`
	Sessions     []SessionInfo `json:"sessions"`
	Devices      []DeviceInfo  `json:"devices"`
	Connectivity Connectivity  `json:"connectivity"`
	Passes       uint64        `json:"passes"`
	// RealHardware is false when routes are driven on the mock gateway.
	RealHardware bool `json:"real_hardware"`
}

// DeepCopy returns a deep copy of the snapshot.
func (s Snapshot) DeepCopy() Snapshot {
	cp := s
	cp.Sessions = append([]SessionInfo(nil), s.Sessions...)
	cp.Devices = append([]DeviceInfo(nil), s.Devices...)
	cp.Connectivity = s.Connectivity.DeepCopy()
	return cp
}
