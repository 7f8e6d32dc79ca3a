//go:build linux

package hotplug

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// JackWatcher reports the headset jack from an active-low detect pin.
type JackWatcher struct {
	sink Sink
	pin  gpio.PinIO
}

// NewJackWatcher opens the named GPIO pin (BCM name, e.g. "GPIO17") as a
// pulled-up input with edge detection.
func NewJackWatcher(pinName string, sink Sink) (*JackWatcher, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("hotplug: gpio host init failed: %w", err)
	}
	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, fmt.Errorf("hotplug: failed to open jack pin %s", pinName)
	}
	if err := p.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("hotplug: configure jack pin %s: %w", pinName, err)
	}
	return &JackWatcher{sink: sink, pin: p}, nil
}

// Run reports the current state, then every change until ctx ends.
func (j *JackWatcher) Run(ctx context.Context) {
	present := j.pin.Read() == gpio.Low
	j.report(ctx, present)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		// Short timeout so cancellation is noticed.
		if !j.pin.WaitForEdge(500 * time.Millisecond) {
			continue
		}
		// Contacts bounce on insertion.
		time.Sleep(20 * time.Millisecond)
		now := j.pin.Read() == gpio.Low
		if now != present {
			present = now
			j.report(ctx, present)
		}
	}
}

func (j *JackWatcher) report(ctx context.Context, present bool) {
	slog.Info("hotplug: headset jack", "pin", j.pin.Name(), "present", present)
	if err := j.sink.SetJackPresent(ctx, present); err != nil {
		slog.Warn("hotplug: jack state not applied", "present", present, "err", err)
	}
}
