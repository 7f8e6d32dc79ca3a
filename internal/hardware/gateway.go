// Package hardware provides the hardware gateway used by the routing engine:
// it opens stream handles, enables and disables physical routes, and applies
// per-session calibration. It defines the Gateway interface implemented by
// both the ALSA gateway and the mock gateway.
package hardware

import (
	"context"

	"github.com/micro-nova/audioroute/internal/models"
)

// Handle is an open stream on a route's PCM node.
type Handle interface {
	// Drain blocks until all queued audio has been rendered.
	Drain(ctx context.Context) error

	// PartialDrain blocks until the current track has been rendered.
	PartialDrain(ctx context.Context) error

	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Close() error
}

// Gateway is the hardware abstraction the routing engine drives. Enable and
// Disable must be fast and non-blocking: they are called while the global
// routing lock is held.
type Gateway interface {
	// OpenRoute opens the stream node described by a route profile key.
	OpenRoute(ctx context.Context, profileKey string) (Handle, error)

	// Enable powers up the physical path of an elementary route.
	Enable(ctx context.Context, id models.RouteID) error

	// Disable powers down the physical path of an elementary route.
	Disable(ctx context.Context, id models.RouteID) error

	// ApplyCalibration applies the session's stream path and calibration for
	// the given route pair. Called after the routes are enabled.
	ApplyCalibration(ctx context.Context, usecase string, pair models.RoutePair, cfg models.StreamConfig) error

	// ClearCalibration tears down the session's stream path. Called before
	// the session's routes are disabled.
	ClearCalibration(ctx context.Context, usecase string, pair models.RoutePair) error

	// IsReal returns true for a real hardware gateway, false for a mock.
	IsReal() bool
}

// MixerPath is one mixer control setting handed to the mixer tool. A route's
// path is applied in order on enable and reset in reverse order on disable;
// controls with no Reset value are left as they are.
type MixerPath struct {
	Control string `mapstructure:"control" json:"control"`
	Value   string `mapstructure:"value" json:"value"`
	Reset   string `mapstructure:"reset" json:"reset,omitempty"`
}

// DirectEnabler is implemented by gateways that can enable some composite
// routes as a single hardware path instead of enabling each member.
type DirectEnabler interface {
	CanEnableDirect(id models.RouteID) bool
}

// HardwareError is returned when a hardware operation fails.
type HardwareError struct {
	msg       string
	transient bool
}

func (e HardwareError) Error() string { return e.msg }

// Transient reports whether retrying the operation may succeed.
func (e HardwareError) Transient() bool { return e.transient }

// ErrHardware creates a new permanent hardware error.
func ErrHardware(msg string) error { return HardwareError{msg: msg} }

// ErrBusy creates a transient hardware error, e.g. a PCM node still held by
// the previous owner.
func ErrBusy(msg string) error { return HardwareError{msg: msg, transient: true} }
