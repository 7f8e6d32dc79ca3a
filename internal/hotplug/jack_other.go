//go:build !linux

package hotplug

import (
	"context"
	"errors"
)

// JackWatcher is unavailable off linux.
type JackWatcher struct{}

func NewJackWatcher(pinName string, sink Sink) (*JackWatcher, error) {
	return nil, errors.New("hotplug: gpio jack detect requires linux")
}

func (j *JackWatcher) Run(ctx context.Context) {}
