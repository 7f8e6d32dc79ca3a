package resolver

import (
	"github.com/micro-nova/audioroute/internal/catalog"
	"github.com/micro-nova/audioroute/internal/models"
)

type deviceRoute struct {
	dev   models.Device
	route models.RouteID
}

const wired = models.DeviceOutWiredHeadset | models.DeviceOutWiredHeadphone

// Two-endpoint requests map straight to a composite route.
var compositeOut = []deviceRoute{
	{models.DeviceOutSpeaker | models.DeviceOutWiredHeadset, catalog.SpeakerAndHeadphones},
	{models.DeviceOutSpeaker | models.DeviceOutWiredHeadphone, catalog.SpeakerAndHeadphones},
	{models.DeviceOutSpeaker | models.DeviceOutLine, catalog.SpeakerAndLine},
	{models.DeviceOutSpeaker | models.DeviceOutHDMI, catalog.SpeakerAndHDMI},
	{models.DeviceOutSpeaker | models.DeviceOutBluetoothA2DP, catalog.SpeakerAndBTA2DP},
	{models.DeviceOutSpeaker | models.DeviceOutUSBHeadset, catalog.SpeakerAndUSB},
}

// Single-device outputs, in precedence order for masks that match no composite.
var playbackOut = []deviceRoute{
	{models.DeviceOutBluetoothSCO, catalog.BTSCO},
	{wired, catalog.Headphones},
	{models.DeviceOutUSBHeadset, catalog.USBHeadset},
	{models.DeviceOutBluetoothA2DP, catalog.BTA2DP},
	{models.DeviceOutHDMI, catalog.HDMI},
	{models.DeviceOutLine, catalog.LineOut},
	{models.DeviceOutEarpiece, catalog.Handset},
	{models.DeviceOutSpeaker, catalog.Speaker},
}

var voiceOut = []deviceRoute{
	{models.DeviceOutBluetoothSCO, catalog.BTSCO},
	{wired, catalog.VoiceHeadphones},
	{models.DeviceOutUSBHeadset, catalog.USBHeadset},
	{models.DeviceOutEarpiece, catalog.VoiceHandset},
	{models.DeviceOutSpeaker, catalog.VoiceSpeaker},
}

var plainIn = []deviceRoute{
	{models.DeviceInBluetoothSCO, catalog.BTSCOMic},
	{models.DeviceInWiredHeadset, catalog.HeadsetMic},
	{models.DeviceInUSBHeadset, catalog.USBHeadsetMic},
	{models.DeviceInBackMic, catalog.SpeakerMic},
	{models.DeviceInBuiltinMic, catalog.HandsetMic},
	{models.DeviceInVoiceCall, catalog.HandsetMic},
}

func lookup(table []deviceRoute, d models.Device) models.RouteID {
	for _, e := range table {
		if d.Overlaps(e.dev) {
			return e.route
		}
	}
	return models.RouteNone
}

func outputRoute(d models.Device) models.RouteID {
	if d.Count() > 1 {
		for _, e := range compositeOut {
			if d == e.dev {
				return e.route
			}
		}
	}
	return lookup(playbackOut, d)
}

func voiceOutputRoute(d models.Device) models.RouteID {
	if r := lookup(voiceOut, d); r != models.RouteNone {
		return r
	}
	// Accessories with no voice path carry the call on the loudspeaker.
	return catalog.VoiceSpeaker
}

func plainInputRoute(d models.Device) models.RouteID {
	return lookup(plainIn, d)
}

func refersTo(set []models.RouteID, ids ...models.RouteID) bool {
	for _, c := range set {
		for _, id := range ids {
			if c == id {
				return true
			}
		}
	}
	return false
}

func voiceInputRoute(d models.Device, out models.RouteID) models.RouteID {
	switch {
	case d.Overlaps(models.DeviceInBluetoothSCO):
		return catalog.BTSCOMic
	case d.Overlaps(models.DeviceInWiredHeadset):
		return catalog.VoiceHeadsetMic
	case d.Overlaps(models.DeviceInUSBHeadset):
		return catalog.USBHeadsetMic
	case out == catalog.VoiceSpeaker:
		return catalog.VoiceSpeakerMic
	default:
		return catalog.VoiceHandsetMic
	}
}

// aecInputRoute picks the echo-cancelling mic matching the output the
// canceller references.
func aecInputRoute(cat *catalog.Catalog, d models.Device, ref models.RouteID) models.RouteID {
	switch {
	case d.Overlaps(models.DeviceInBluetoothSCO):
		return catalog.BTSCOMic
	case d.Overlaps(models.DeviceInUSBHeadset):
		return catalog.USBHeadsetMic
	case d.Overlaps(models.DeviceInWiredHeadset):
		return catalog.HeadsetMicAEC
	}
	refs := append([]models.RouteID{ref}, cat.Split(ref)...)
	switch {
	case refersTo(refs, catalog.Speaker, catalog.VoiceSpeaker):
		return catalog.SpeakerMicAEC
	case refersTo(refs, catalog.Headphones, catalog.VoiceHeadphones):
		return catalog.HeadsetMicAEC
	default:
		return catalog.HandsetMicAEC
	}
}
