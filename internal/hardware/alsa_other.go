//go:build !linux

package hardware

import (
	"context"

	"github.com/micro-nova/audioroute/internal/catalog"
	"github.com/micro-nova/audioroute/internal/models"
)

var errNoALSA = ErrHardware("alsa: gateway requires linux")

// ALSAGateway is unavailable off linux; every operation fails.
type ALSAGateway struct{}

func NewALSA(cat *catalog.Catalog, mixerCmd string, opsPerSec int) *ALSAGateway {
	return &ALSAGateway{}
}

func (g *ALSAGateway) SetPath(profile string, path []MixerPath) {}
func (g *ALSAGateway) SetDevice(profile, node string)           {}

func (g *ALSAGateway) OpenRoute(ctx context.Context, profileKey string) (Handle, error) {
	return nil, errNoALSA
}

func (g *ALSAGateway) Enable(ctx context.Context, id models.RouteID) error  { return errNoALSA }
func (g *ALSAGateway) Disable(ctx context.Context, id models.RouteID) error { return errNoALSA }

func (g *ALSAGateway) ApplyCalibration(ctx context.Context, usecase string, pair models.RoutePair, cfg models.StreamConfig) error {
	return errNoALSA
}

func (g *ALSAGateway) ClearCalibration(ctx context.Context, usecase string, pair models.RoutePair) error {
	return errNoALSA
}

func (g *ALSAGateway) IsReal() bool { return true }
