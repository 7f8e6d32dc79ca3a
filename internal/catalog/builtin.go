package catalog

import (
	"fmt"
	"sort"

	"github.com/micro-nova/audioroute/internal/models"
)

// Route ids used by the built-in variants and the resolver's mapping tables.
const (
	Handset         models.RouteID = "handset"
	Speaker         models.RouteID = "speaker"
	Headphones      models.RouteID = "headphones"
	LineOut         models.RouteID = "line"
	VoiceHandset    models.RouteID = "voice-handset"
	VoiceSpeaker    models.RouteID = "voice-speaker"
	VoiceHeadphones models.RouteID = "voice-headphones"
	BTSCO           models.RouteID = "bt-sco"
	BTA2DP          models.RouteID = "bt-a2dp"
	HDMI            models.RouteID = "hdmi"
	USBHeadset      models.RouteID = "usb-headset"

	SpeakerAndHeadphones models.RouteID = "speaker-and-headphones"
	SpeakerAndLine       models.RouteID = "speaker-and-line"
	SpeakerAndHDMI       models.RouteID = "speaker-and-hdmi"
	SpeakerAndBTA2DP     models.RouteID = "speaker-and-bt-a2dp"
	SpeakerAndUSB        models.RouteID = "speaker-and-usb-headset"

	HandsetMic      models.RouteID = "handset-mic"
	SpeakerMic      models.RouteID = "speaker-mic"
	HeadsetMic      models.RouteID = "headset-mic"
	HandsetMicAEC   models.RouteID = "handset-mic-aec"
	SpeakerMicAEC   models.RouteID = "speaker-mic-aec"
	HeadsetMicAEC   models.RouteID = "headset-mic-aec"
	VoiceHandsetMic models.RouteID = "voice-handset-mic"
	VoiceSpeakerMic models.RouteID = "voice-speaker-mic"
	VoiceHeadsetMic models.RouteID = "voice-headset-mic"
	BTSCOMic        models.RouteID = "bt-sco-mic"
	USBHeadsetMic   models.RouteID = "usb-headset-mic"
)

// Backend lanes of the built-in variants.
const (
	BackendCodecRx = "codec-rx"
	BackendHphRx   = "hph-rx"
	BackendCodecTx = "codec-tx"
	BackendSCORx   = "sco-rx"
	BackendSCOTx   = "sco-tx"
	BackendA2DPRx  = "a2dp-rx"
	BackendHDMIRx  = "hdmi-rx"
	BackendUSBRx   = "usb-rx"
	BackendUSBTx   = "usb-tx"
)

// USBCard is the sound card the built-in variants place USB routes on.
const USBCard = 1

func out(id models.RouteID, backend string) ElementaryRoute {
	return ElementaryRoute{ID: id, Direction: Out, Backend: backend, Profile: string(id)}
}

func in(id models.RouteID, backend string) ElementaryRoute {
	return ElementaryRoute{ID: id, Direction: In, Backend: backend, Profile: string(id)}
}

func builtinRoutes(hphBackend string) []ElementaryRoute {
	a2dp := out(BTA2DP, BackendA2DPRx)
	a2dp.Requires = RequiresWireless
	hph := out(Headphones, hphBackend)
	hph.Requires = RequiresJack
	vhph := out(VoiceHeadphones, hphBackend)
	vhph.Requires = RequiresJack
	usb := out(USBHeadset, BackendUSBRx)
	usb.Card = USBCard
	usbMic := in(USBHeadsetMic, BackendUSBTx)
	usbMic.Card = USBCard
	hsMic := in(HeadsetMic, BackendCodecTx)
	hsMic.Requires = RequiresJack
	hsMicAEC := in(HeadsetMicAEC, BackendCodecTx)
	hsMicAEC.Requires = RequiresJack
	vhsMic := in(VoiceHeadsetMic, BackendCodecTx)
	vhsMic.Requires = RequiresJack

	return []ElementaryRoute{
		out(Handset, BackendCodecRx),
		out(Speaker, BackendCodecRx),
		hph,
		out(LineOut, hphBackend),
		out(VoiceHandset, BackendCodecRx),
		out(VoiceSpeaker, BackendCodecRx),
		vhph,
		out(BTSCO, BackendSCORx),
		a2dp,
		out(HDMI, BackendHDMIRx),
		usb,
		in(HandsetMic, BackendCodecTx),
		in(SpeakerMic, BackendCodecTx),
		hsMic,
		in(HandsetMicAEC, BackendCodecTx),
		in(SpeakerMicAEC, BackendCodecTx),
		hsMicAEC,
		in(VoiceHandsetMic, BackendCodecTx),
		in(VoiceSpeakerMic, BackendCodecTx),
		vhsMic,
		in(BTSCOMic, BackendSCOTx),
		usbMic,
	}
}

func builtinComposites() []CompositeRoute {
	return []CompositeRoute{
		{ID: SpeakerAndHeadphones, Members: []models.RouteID{Speaker, Headphones}},
		{ID: SpeakerAndLine, Members: []models.RouteID{Speaker, LineOut}},
		{ID: SpeakerAndHDMI, Members: []models.RouteID{Speaker, HDMI}},
		{ID: SpeakerAndBTA2DP, Members: []models.RouteID{Speaker, BTA2DP}},
		{ID: SpeakerAndUSB, Members: []models.RouteID{Speaker, USBHeadset}},
	}
}

// variants maps hardware variant names to catalog constructors.
var variants = map[string]func() (*Catalog, error){
	// Headphone and line outputs run on their own lane, so speaker+headphones
	// splits across two backends.
	"reference": func() (*Catalog, error) {
		return New("reference", builtinRoutes(BackendHphRx), builtinComposites(), Speaker, HandsetMic)
	},
	// Every codec output shares one lane.
	"shared-codec": func() (*Catalog, error) {
		return New("shared-codec", builtinRoutes(BackendCodecRx), builtinComposites(), Speaker, HandsetMic)
	},
}

// Builtin returns the catalog of a built-in hardware variant.
func Builtin(variant string) (*Catalog, error) {
	ctor, ok := variants[variant]
	if !ok {
		return nil, fmt.Errorf("catalog: unknown hardware variant %q (known: %v)", variant, Variants())
	}
	return ctor()
}

// Variants returns the names of the built-in hardware variants.
func Variants() []string {
	names := make([]string, 0, len(variants))
	for n := range variants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MustBuiltin is Builtin for tests and static initialisation; it panics on error.
func MustBuiltin(variant string) *Catalog {
	c, err := Builtin(variant)
	if err != nil {
		panic(err)
	}
	return c
}
