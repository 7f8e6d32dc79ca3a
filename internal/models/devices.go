package models

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strings"
)

// Device is a direction-tagged bitmask of logical audio devices as requested
// by a stream. Input devices carry the DeviceIn bit; a mask never mixes
// directions.
type Device uint32

// DeviceIn tags a mask as an input (capture) device set.
const DeviceIn Device = 1 << 31

// Output devices.
const (
	DeviceOutEarpiece Device = 1 << iota
	DeviceOutSpeaker
	DeviceOutWiredHeadset
	DeviceOutWiredHeadphone
	DeviceOutLine
	DeviceOutBluetoothSCO
	DeviceOutBluetoothA2DP
	DeviceOutHDMI
	DeviceOutUSBHeadset

	DeviceNone Device = 0
)

// Input devices.
const (
	DeviceInBuiltinMic Device = DeviceIn | 1<<iota
	DeviceInBackMic
	DeviceInWiredHeadset
	DeviceInBluetoothSCO
	DeviceInUSBHeadset
	DeviceInVoiceCall
)

const (
	outAll = DeviceOutEarpiece | DeviceOutSpeaker | DeviceOutWiredHeadset | DeviceOutWiredHeadphone |
		DeviceOutLine | DeviceOutBluetoothSCO | DeviceOutBluetoothA2DP | DeviceOutHDMI | DeviceOutUSBHeadset
	inAll = DeviceInBuiltinMic | DeviceInBackMic | DeviceInWiredHeadset | DeviceInBluetoothSCO |
		DeviceInUSBHeadset | DeviceInVoiceCall
)

var deviceNames = []struct {
	dev  Device
	name string
}{
	{DeviceOutEarpiece, "earpiece"},
	{DeviceOutSpeaker, "speaker"},
	{DeviceOutWiredHeadset, "wired-headset"},
	{DeviceOutWiredHeadphone, "wired-headphone"},
	{DeviceOutLine, "line"},
	{DeviceOutBluetoothSCO, "bt-sco"},
	{DeviceOutBluetoothA2DP, "bt-a2dp"},
	{DeviceOutHDMI, "hdmi"},
	{DeviceOutUSBHeadset, "usb-headset"},
	{DeviceInBuiltinMic, "in:builtin-mic"},
	{DeviceInBackMic, "in:back-mic"},
	{DeviceInWiredHeadset, "in:wired-headset"},
	{DeviceInBluetoothSCO, "in:bt-sco"},
	{DeviceInUSBHeadset, "in:usb-headset"},
	{DeviceInVoiceCall, "in:voice-call"},
}

// IsInput reports whether d is an input device mask.
func (d Device) IsInput() bool { return d&DeviceIn != 0 }

// Count returns the number of distinct devices in the mask.
func (d Device) Count() int { return bits.OnesCount32(uint32(d &^ DeviceIn)) }

// Has reports whether every device in other is also in d.
func (d Device) Has(other Device) bool {
	if other.IsInput() != d.IsInput() {
		return false
	}
	o := other &^ DeviceIn
	return o != 0 && d&o == o
}

// Overlaps reports whether d and other share at least one device of the same direction.
func (d Device) Overlaps(other Device) bool {
	if d.IsInput() != other.IsInput() {
		return false
	}
	return (d&^DeviceIn)&(other&^DeviceIn) != 0
}

// Validate rejects empty masks and masks carrying unknown bits.
func (d Device) Validate() error {
	if d.Count() == 0 {
		return ErrInvalidArgument("empty device mask")
	}
	if d.IsInput() {
		if d&^inAll != 0 {
			return ErrInvalidArgument(fmt.Sprintf("malformed input device mask %#x", uint32(d)))
		}
		return nil
	}
	if d&^outAll != 0 {
		return ErrInvalidArgument(fmt.Sprintf("malformed output device mask %#x", uint32(d)))
	}
	return nil
}

func (d Device) String() string {
	if d.Count() == 0 {
		return "none"
	}
	var parts []string
	for _, dn := range deviceNames {
		if d.Has(dn.dev) {
			parts = append(parts, dn.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseDevice parses a "|"-separated list of device names as produced by String.
func ParseDevice(s string) (Device, error) {
	var d Device
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		found := false
		for _, dn := range deviceNames {
			if dn.name == part {
				if d != DeviceNone && d.IsInput() != dn.dev.IsInput() {
					return DeviceNone, ErrInvalidArgument("device mask mixes input and output devices")
				}
				d |= dn.dev
				found = true
				break
			}
		}
		if !found {
			return DeviceNone, ErrInvalidArgument(fmt.Sprintf("unknown device %q", part))
		}
	}
	if err := d.Validate(); err != nil {
		return DeviceNone, err
	}
	return d, nil
}

func (d Device) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Device) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" || s == "none" {
		*d = DeviceNone
		return nil
	}
	parsed, err := ParseDevice(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DeviceClass groups logical devices by the hardware family that carries them.
// Two requests whose classes overlap may share a backend.
type DeviceClass uint8

const (
	ClassCodec DeviceClass = 1 << iota
	ClassSCO
	ClassA2DP
	ClassHDMI
	ClassUSB
	ClassCall
)

// Classes returns the set of device classes in d.
func (d Device) Classes() DeviceClass {
	var c DeviceClass
	if d.IsInput() {
		if d.Overlaps(DeviceInBuiltinMic | DeviceInBackMic | DeviceInWiredHeadset) {
			c |= ClassCodec
		}
		if d.Overlaps(DeviceInBluetoothSCO) {
			c |= ClassSCO
		}
		if d.Overlaps(DeviceInUSBHeadset) {
			c |= ClassUSB
		}
		if d.Overlaps(DeviceInVoiceCall) {
			c |= ClassCall
		}
		return c
	}
	if d.Overlaps(DeviceOutEarpiece | DeviceOutSpeaker | DeviceOutWiredHeadset | DeviceOutWiredHeadphone | DeviceOutLine) {
		c |= ClassCodec
	}
	if d.Overlaps(DeviceOutBluetoothSCO) {
		c |= ClassSCO
	}
	if d.Overlaps(DeviceOutBluetoothA2DP) {
		c |= ClassA2DP
	}
	if d.Overlaps(DeviceOutHDMI) {
		c |= ClassHDMI
	}
	if d.Overlaps(DeviceOutUSBHeadset) {
		c |= ClassUSB
	}
	return c
}
