package hotplug

import (
	"context"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService   = "org.bluez"
	a2dpTransport  = "org.bluez.MediaTransport1"
	a2dpSinkUUID   = "0000110b-0000-1000-8000-00805f9b34fb"
	bluezPollEvery = 3 * time.Second
)

// ObjectLister returns the BlueZ managed objects. The default lister queries
// the system bus.
type ObjectLister func(ctx context.Context) (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error)

// BluezWatcher polls BlueZ for an A2DP sink transport and reports the
// wireless output as ready while one exists.
type BluezWatcher struct {
	sink  Sink
	list  ObjectLister
	every time.Duration
	ready bool
	known bool
}

// NewBluezWatcher creates a watcher on the system bus.
func NewBluezWatcher(sink Sink) *BluezWatcher {
	return &BluezWatcher{sink: sink, list: systemBusObjects, every: bluezPollEvery}
}

// NewBluezWatcherWith creates a watcher over a custom object lister.
func NewBluezWatcherWith(sink Sink, list ObjectLister, every time.Duration) *BluezWatcher {
	return &BluezWatcher{sink: sink, list: list, every: every}
}

// Run polls until ctx ends.
func (b *BluezWatcher) Run(ctx context.Context) {
	b.Poll(ctx)
	ticker := time.NewTicker(b.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Poll(ctx)
		}
	}
}

// Poll checks BlueZ once and reports a change of the ready state.
func (b *BluezWatcher) Poll(ctx context.Context) {
	objects, err := b.list(ctx)
	if err != nil {
		slog.Debug("hotplug: bluez query failed", "err", err)
		return
	}
	ready := hasA2DPSink(objects)
	if b.known && ready == b.ready {
		return
	}
	b.known = true
	b.ready = ready
	slog.Info("hotplug: bluez a2dp sink", "ready", ready)
	if err := b.sink.SetWirelessReady(ctx, ready); err != nil {
		slog.Warn("hotplug: wireless state not applied", "ready", ready, "err", err)
	}
}

func hasA2DPSink(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant) bool {
	for _, ifaces := range objects {
		props, ok := ifaces[a2dpTransport]
		if !ok {
			continue
		}
		uuid, ok := props["UUID"]
		if !ok {
			return true
		}
		if s, ok := uuid.Value().(string); ok && s == a2dpSinkUUID {
			return true
		}
	}
	return false
}

func systemBusObjects(ctx context.Context) (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	call := conn.Object(bluezService, "/").CallWithContext(ctx, "org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0)
	if call.Err != nil {
		return nil, call.Err
	}
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := call.Store(&objects); err != nil {
		return nil, err
	}
	return objects, nil
}
