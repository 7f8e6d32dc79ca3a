// Package auth implements API-key access control for the control API. Keys
// live in a JSON file that is reloaded when it changes on disk.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Role is what a client key may do.
type Role string

const (
	// RoleObserve may read routing state and subscribe to snapshots.
	RoleObserve Role = "observe"
	// RoleControl may also start, stop and reroute sessions and report
	// hot-plug state.
	RoleControl Role = "control"
)

// Client is one entry of the keys file, keyed by client name.
type Client struct {
	Role      Role   `json:"role"`
	AccessKey string `json:"access_key"`
}

// Service verifies client keys.
type Service struct {
	mu      sync.RWMutex
	path    string
	clients map[string]Client
	watcher *fsnotify.Watcher
}

// NewService loads the keys file at path and watches it for changes. A
// missing file leaves the service in open mode.
func NewService(path string) (*Service, error) {
	s := &Service{
		path:    path,
		clients: make(map[string]Client),
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("auth: could not create fsnotify watcher", "err", err)
		return s, nil
	}
	s.watcher = watcher

	// The directory is watched so that atomic renames over the file are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		slog.Warn("auth: could not watch keys dir", "err", err)
	}

	go s.watchLoop()
	return s, nil
}

// Reload re-reads the keys file.
func (s *Service) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			s.clients = make(map[string]Client)
			s.mu.Unlock()
			return nil
		}
		return err
	}

	var clients map[string]Client
	if err := json.Unmarshal(data, &clients); err != nil {
		return fmt.Errorf("auth: parse %s: %w", s.path, err)
	}
	for name, c := range clients {
		if c.AccessKey == "" {
			return fmt.Errorf("auth: client %q has no access_key", name)
		}
		if c.Role != RoleObserve && c.Role != RoleControl {
			return fmt.Errorf("auth: client %q has unknown role %q", name, c.Role)
		}
	}

	s.mu.Lock()
	s.clients = clients
	s.mu.Unlock()
	slog.Debug("auth: reloaded clients", "count", len(clients))
	return nil
}

// IsOpenMode returns true if no client keys are configured. In open mode all
// requests are allowed.
func (s *Service) IsOpenMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients) == 0
}

// VerifyKey returns the role of the client holding key.
// Uses constant-time comparison to prevent timing attacks.
func (s *Service) VerifyKey(key string) (Role, bool) {
	if key == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if subtle.ConstantTimeCompare([]byte(key), []byte(c.AccessKey)) == 1 {
			return c.Role, true
		}
	}
	return "", false
}

// Close stops the file watcher.
func (s *Service) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *Service) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				// A bad edit keeps the previous keys.
				if err := s.Reload(); err != nil {
					slog.Warn("auth: failed to reload clients", "err", err)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("auth: watcher error", "err", err)
		}
	}
}
