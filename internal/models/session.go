package models

import (
	"encoding/json"
	"fmt"
)

// RouteID names a physical route in the route catalog. RouteNone means the
// direction is not routed.
type RouteID string

const RouteNone RouteID = ""

// RoutePair is the (input, output) route assignment of a session.
type RoutePair struct {
	In  RouteID `json:"in"`
	Out RouteID `json:"out"`
}

// Kind is the type of audio activity a session represents.
type Kind uint8

const (
	KindPlayback Kind = iota
	KindCapture
	KindVoiceCall
	KindVoIP
	KindTelephonyBridge
	KindLoopback
)

var kindNames = map[Kind]string{
	KindPlayback:        "playback",
	KindCapture:         "capture",
	KindVoiceCall:       "voice-call",
	KindVoIP:            "voip",
	KindTelephonyBridge: "telephony-bridge",
	KindLoopback:        "loopback",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseKind parses a kind name as produced by String.
func ParseKind(s string) (Kind, error) {
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, ErrInvalidArgument(fmt.Sprintf("unknown session kind %q", s))
}

func (k Kind) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// IsPriority reports whether sessions of this kind take routing precedence
// over every other active session.
func (k Kind) IsPriority() bool {
	return k == KindVoiceCall || k == KindVoIP || k == KindTelephonyBridge
}

// HasOutput reports whether sessions of this kind own an output route.
func (k Kind) HasOutput() bool { return k != KindCapture }

// HasInput reports whether sessions of this kind own an input route.
func (k Kind) HasInput() bool { return k != KindPlayback }

// Mode is the global audio mode.
type Mode uint8

const (
	ModeIdle Mode = iota
	ModeVoiceCall
	ModeVoIP
	ModeCommunication
)

var modeNames = map[Mode]string{
	ModeIdle:          "idle",
	ModeVoiceCall:     "voice-call",
	ModeVoIP:          "voip",
	ModeCommunication: "communication",
}

func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return "unknown"
}

// ParseMode parses a mode name as produced by String.
func ParseMode(s string) (Mode, error) {
	for m, n := range modeNames {
		if n == s {
			return m, nil
		}
	}
	return 0, ErrInvalidArgument(fmt.Sprintf("unknown mode %q", s))
}

func (m Mode) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }

func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// InCall reports whether the mode routes through the voice-call path.
func (m Mode) InCall() bool { return m == ModeVoiceCall }

// InCommunication reports whether capture should use echo-cancelling mics.
func (m Mode) InCommunication() bool { return m == ModeVoIP || m == ModeCommunication }

// StreamConfig is the stream-specific configuration applied with a route.
type StreamConfig struct {
	Format         string `json:"format"`
	SampleRate     int    `json:"sample_rate"`
	BitWidth       int    `json:"bit_width"`
	BackendProfile string `json:"backend_profile,omitempty"`
}

// Descriptor describes a session a caller wants to start.
type Descriptor struct {
	Usecase    string       `json:"usecase"`
	Kind       Kind         `json:"kind"`
	OutDevices Device       `json:"out_devices"`
	InDevices  Device       `json:"in_devices"`
	Config     StreamConfig `json:"config"`
	Offload    bool         `json:"offload,omitempty"`
	EchoCancel bool         `json:"echo_cancel,omitempty"`
}

// Validate rejects descriptors that cannot be routed, before any state is touched.
func (d Descriptor) Validate() error {
	if d.Usecase == "" {
		return ErrInvalidArgument("usecase is required")
	}
	if _, ok := kindNames[d.Kind]; !ok {
		return ErrInvalidArgument("unknown session kind")
	}
	if d.Kind.HasOutput() {
		if err := d.OutDevices.Validate(); err != nil {
			return err
		}
		if d.OutDevices.IsInput() {
			return ErrInvalidArgument("out_devices holds input devices")
		}
	} else if d.OutDevices != DeviceNone {
		return ErrInvalidArgument("capture sessions take no output devices")
	}
	if d.Kind.HasInput() {
		if err := d.InDevices.Validate(); err != nil {
			return err
		}
		if !d.InDevices.IsInput() {
			return ErrInvalidArgument("in_devices holds output devices")
		}
	} else if d.InDevices != DeviceNone {
		return ErrInvalidArgument("playback sessions take no input devices")
	}
	if d.Offload && d.Kind != KindPlayback {
		return ErrInvalidArgument("only playback sessions can be offloaded")
	}
	return nil
}

// RerouteReason says why a routing pass runs. Force reasons re-apply a route
// even when the resolved route equals the current one.
type RerouteReason uint8

const (
	ReasonStart RerouteReason = iota
	ReasonDeviceChange
	ReasonModeChange
	ReasonHotplug
	ReasonPriorityStopped
	ReasonSessionStopped
	ReasonEchoReference
	ReasonFormatRenegotiation
	ReasonAccessoryReconnect
	ReasonStreamConfigChanged
	ReasonForced
)

var reasonNames = map[RerouteReason]string{
	ReasonStart:               "start",
	ReasonDeviceChange:        "device-change",
	ReasonModeChange:          "mode-change",
	ReasonHotplug:             "hotplug",
	ReasonPriorityStopped:     "priority-stopped",
	ReasonSessionStopped:      "session-stopped",
	ReasonEchoReference:       "echo-reference",
	ReasonFormatRenegotiation: "format-renegotiation",
	ReasonAccessoryReconnect:  "accessory-reconnect",
	ReasonStreamConfigChanged: "stream-config-changed",
	ReasonForced:              "forced",
}

func (r RerouteReason) String() string {
	if n, ok := reasonNames[r]; ok {
		return n
	}
	return "unknown"
}

// Forces reports whether the reason requires re-applying an unchanged route.
func (r RerouteReason) Forces() bool {
	switch r {
	case ReasonFormatRenegotiation, ReasonAccessoryReconnect, ReasonStreamConfigChanged, ReasonForced:
		return true
	}
	return false
}
