// Package hotplug feeds sound-card, wireless-link and headset-jack state
// changes into the routing engine. Sources are a supervised watcher process
// speaking a line protocol, a state directory, BlueZ over D-Bus and a GPIO
// jack-detect pin.
package hotplug

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Sink receives state changes. *router.Engine implements it.
type Sink interface {
	OnCardState(ctx context.Context, card int, online bool) error
	SetWirelessReady(ctx context.Context, ready bool) error
	SetJackPresent(ctx context.Context, present bool) error
}

// Kind is the source of an event.
type Kind uint8

const (
	KindCard Kind = iota
	KindWireless
	KindJack
)

// Event is one state change.
type Event struct {
	Kind Kind
	Card int
	Up   bool
}

func (e Event) String() string {
	switch e.Kind {
	case KindCard:
		return fmt.Sprintf("card %d %s", e.Card, pick(e.Up, "online", "offline"))
	case KindWireless:
		return "wireless " + pick(e.Up, "up", "down")
	default:
		return "jack " + pick(e.Up, "in", "out")
	}
}

func pick(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}

// ParseEvent parses one line of the watcher protocol:
//
//	card <n> online|offline
//	wireless up|down
//	jack in|out
func ParseEvent(line string) (Event, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return Event{}, fmt.Errorf("hotplug: empty event")
	}
	switch f[0] {
	case "card":
		if len(f) != 3 {
			return Event{}, fmt.Errorf("hotplug: malformed card event %q", line)
		}
		n, err := strconv.Atoi(f[1])
		if err != nil || n < 0 {
			return Event{}, fmt.Errorf("hotplug: bad card number %q", f[1])
		}
		up, err := state(f[2], "online", "offline")
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: KindCard, Card: n, Up: up}, nil
	case "wireless", "jack":
		if len(f) != 2 {
			return Event{}, fmt.Errorf("hotplug: malformed %s event %q", f[0], line)
		}
		if f[0] == "wireless" {
			up, err := state(f[1], "up", "down")
			return Event{Kind: KindWireless, Up: up}, err
		}
		up, err := state(f[1], "in", "out")
		return Event{Kind: KindJack, Up: up}, err
	}
	return Event{}, fmt.Errorf("hotplug: unknown event %q", f[0])
}

func state(s, yes, no string) (bool, error) {
	switch s {
	case yes:
		return true, nil
	case no:
		return false, nil
	}
	return false, fmt.Errorf("hotplug: expected %s or %s, got %q", yes, no, s)
}

// Dispatch delivers ev to sink.
func Dispatch(ctx context.Context, sink Sink, ev Event) error {
	switch ev.Kind {
	case KindCard:
		return sink.OnCardState(ctx, ev.Card, ev.Up)
	case KindWireless:
		return sink.SetWirelessReady(ctx, ev.Up)
	default:
		return sink.SetJackPresent(ctx, ev.Up)
	}
}
