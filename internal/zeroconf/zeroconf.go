// Package zeroconf advertises the routing daemon's control API as an
// mDNS/DNS-SD service so tooling on the LAN can find it.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/micro-nova/audioroute/internal/models"
)

// ServiceType is the DNS-SD type the control API registers under.
const ServiceType = "_audioroute._tcp"

// Version is announced in the TXT records.
const Version = "1.0.0"

// Service manages mDNS service registration.
type Service struct {
	name    string
	port    int
	variant string

	mu       sync.Mutex
	server   *zeroconf.Server
	sessions int
	mode     string
}

// New creates a Service advertising the API on port for the given catalog
// variant. name is the instance name, usually the hostname.
func New(name string, port int, variant string) *Service {
	return &Service{name: name, port: port, variant: variant, mode: models.ModeIdle.String()}
}

// Text returns the current TXT records.
func (s *Service) Text() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textLocked()
}

func (s *Service) textLocked() []string {
	return []string{
		"version=" + Version,
		"variant=" + s.variant,
		"mode=" + s.mode,
		"sessions=" + strconv.Itoa(s.sessions),
	}
}

// Start registers the mDNS service and blocks until ctx is cancelled, at which
// point it shuts down the server cleanly.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	txt := s.textLocked()
	server, err := zeroconf.Register(s.name, ServiceType, "local.", s.port, txt, nil)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("zeroconf register: %w", err)
	}
	s.server = server
	s.mu.Unlock()
	slog.Info("zeroconf: registered mDNS service", "name", s.name, "type", ServiceType, "port", s.port, "txt", txt)

	<-ctx.Done()

	s.mu.Lock()
	s.server = nil
	s.mu.Unlock()
	server.Shutdown()
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}

// Update records the routing state summarised in the TXT records and
// re-announces them when the service is registered. It reports whether the
// records changed.
func (s *Service) Update(snap models.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	mode := snap.Mode.String()
	if s.sessions == len(snap.Sessions) && s.mode == mode {
		return false
	}
	s.sessions = len(snap.Sessions)
	s.mode = mode
	if s.server != nil {
		s.server.SetText(s.textLocked())
	}
	return true
}

// Follow applies every snapshot received on ch until ctx ends or ch closes.
func (s *Service) Follow(ctx context.Context, ch <-chan models.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if s.Update(snap) {
				slog.Debug("zeroconf: TXT records updated", "sessions", len(snap.Sessions), "mode", snap.Mode)
			}
		}
	}
}
