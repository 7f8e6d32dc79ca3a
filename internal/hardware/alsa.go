//go:build linux

package hardware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/micro-nova/audioroute/internal/catalog"
	"github.com/micro-nova/audioroute/internal/models"
)

const (
	sndDevDir    = "/dev/snd"
	maxOpsPerSec = 200

	// SNDRV_PCM_IOCTL_PAUSE, _IOW('A', 0x45, int).
	pcmIoctlPause = 0x40044145
)

// ALSAGateway drives routes through ALSA: stream nodes are opened under
// /dev/snd and route paths are applied through a tinymix-compatible mixer
// command, one control per invocation.
type ALSAGateway struct {
	mu       sync.Mutex
	cat      *catalog.Catalog
	mixerCmd string
	paths    map[string][]MixerPath // profile key → path
	devices  map[string]string      // profile key → pcmC<card>D<dev><p|c>
	limiter  *rate.Limiter
	run      func(ctx context.Context, name string, args ...string) error
}

// NewALSA creates a gateway for the given catalog. mixerCmd is the mixer
// binary ("tinymix" when empty); opsPerSec bounds mixer invocations.
func NewALSA(cat *catalog.Catalog, mixerCmd string, opsPerSec int) *ALSAGateway {
	if mixerCmd == "" {
		mixerCmd = "tinymix"
	}
	if opsPerSec <= 0 {
		opsPerSec = maxOpsPerSec
	}
	return &ALSAGateway{
		cat:      cat,
		mixerCmd: mixerCmd,
		paths:    make(map[string][]MixerPath),
		devices:  make(map[string]string),
		limiter:  rate.NewLimiter(rate.Limit(opsPerSec), 10),
		run: func(ctx context.Context, name string, args ...string) error {
			out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("%s %s: %w (%s)", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
			}
			return nil
		},
	}
}

// SetPath registers the mixer path for a route profile.
func (g *ALSAGateway) SetPath(profile string, path []MixerPath) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paths[profile] = append([]MixerPath(nil), path...)
}

// SetDevice registers the PCM node name (e.g. "pcmC0D0p") opened for a profile.
func (g *ALSAGateway) SetDevice(profile, node string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.devices[profile] = node
}

func (g *ALSAGateway) OpenRoute(ctx context.Context, profileKey string) (Handle, error) {
	g.mu.Lock()
	node, ok := g.devices[profileKey]
	g.mu.Unlock()
	if !ok {
		return nil, ErrHardware(fmt.Sprintf("alsa: no pcm node for profile %q", profileKey))
	}
	path := filepath.Join(sndDevDir, node)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EAGAIN) {
			return nil, ErrBusy(fmt.Sprintf("alsa: %s busy", path))
		}
		return nil, ErrHardware(fmt.Sprintf("alsa: open %s: %v", path, err))
	}
	slog.Debug("alsa: opened stream node", "path", path, "fd", fd)
	return &alsaHandle{fd: fd, path: path}, nil
}

func (g *ALSAGateway) profile(id models.RouteID) (string, error) {
	r, ok := g.cat.Route(id)
	if !ok {
		return "", ErrHardware(fmt.Sprintf("alsa: %s is not an elementary route", id))
	}
	return r.Profile, nil
}

func (g *ALSAGateway) mix(ctx context.Context, control, value string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := g.run(ctx, g.mixerCmd, "set", control, value); err != nil {
		return ErrHardware("alsa: " + err.Error())
	}
	return nil
}

func (g *ALSAGateway) Enable(ctx context.Context, id models.RouteID) error {
	profile, err := g.profile(id)
	if err != nil {
		return err
	}
	g.mu.Lock()
	path := g.paths[profile]
	g.mu.Unlock()
	for _, p := range path {
		if err := g.mix(ctx, p.Control, p.Value); err != nil {
			return err
		}
	}
	slog.Debug("alsa: route enabled", "route", id, "controls", len(path))
	return nil
}

func (g *ALSAGateway) Disable(ctx context.Context, id models.RouteID) error {
	profile, err := g.profile(id)
	if err != nil {
		return err
	}
	g.mu.Lock()
	path := g.paths[profile]
	g.mu.Unlock()
	for i := len(path) - 1; i >= 0; i-- {
		p := path[i]
		if p.Reset == "" {
			continue
		}
		if err := g.mix(ctx, p.Control, p.Reset); err != nil {
			return err
		}
	}
	slog.Debug("alsa: route disabled", "route", id)
	return nil
}

func (g *ALSAGateway) ApplyCalibration(ctx context.Context, usecase string, pair models.RoutePair, cfg models.StreamConfig) error {
	g.mu.Lock()
	path := g.paths[usecase]
	g.mu.Unlock()
	for _, p := range path {
		if err := g.mix(ctx, p.Control, p.Value); err != nil {
			return err
		}
	}
	slog.Debug("alsa: calibration applied", "usecase", usecase, "in", pair.In, "out", pair.Out,
		"rate", cfg.SampleRate, "bits", cfg.BitWidth)
	return nil
}

func (g *ALSAGateway) ClearCalibration(ctx context.Context, usecase string, pair models.RoutePair) error {
	g.mu.Lock()
	path := g.paths[usecase]
	g.mu.Unlock()
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].Reset == "" {
			continue
		}
		if err := g.mix(ctx, path[i].Control, path[i].Reset); err != nil {
			return err
		}
	}
	return nil
}

func (g *ALSAGateway) IsReal() bool {
	return true
}

// alsaHandle is an open PCM node.
type alsaHandle struct {
	mu   sync.Mutex
	fd   int
	path string
}

func (h *alsaHandle) Drain(ctx context.Context) error        { return h.fsync() }
func (h *alsaHandle) PartialDrain(ctx context.Context) error { return h.fsync() }
func (h *alsaHandle) Pause(ctx context.Context) error        { return h.pause(1) }
func (h *alsaHandle) Resume(ctx context.Context) error       { return h.pause(0) }

func (h *alsaHandle) pause(push int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fd < 0 {
		return ErrHardware("alsa: handle closed")
	}
	if err := unix.IoctlSetInt(h.fd, pcmIoctlPause, push); err != nil {
		if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.ENOSYS) {
			return ErrHardware(fmt.Sprintf("alsa: %s does not support pause", h.path))
		}
		return ErrHardware(fmt.Sprintf("alsa: pause(%d) %s: %v", push, h.path, err))
	}
	return nil
}

func (h *alsaHandle) fsync() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fd < 0 {
		return ErrHardware("alsa: handle closed")
	}
	if err := unix.Fsync(h.fd); err != nil && !errors.Is(err, unix.EINVAL) {
		return ErrHardware(fmt.Sprintf("alsa: drain %s: %v", h.path, err))
	}
	return nil
}

func (h *alsaHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fd < 0 {
		return nil
	}
	err := unix.Close(h.fd)
	h.fd = -1
	return err
}

var _ Gateway = (*ALSAGateway)(nil)
