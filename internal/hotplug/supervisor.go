package hotplug

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxFails    = 5
	defaultFastFailSec = 5.0
	defaultMaxBackoff  = 30 * time.Second
	initialBackoff     = 500 * time.Millisecond
	backoffReset       = 30 * time.Second // reset backoff if process ran this long
	sigtermTimeout     = 3 * time.Second
)

// Supervisor runs a hot-plug watcher process, restarts it with backoff when
// it exits and delivers every event line it prints on stdout to a Sink.
// It is safe to call Start/Stop concurrently.
type Supervisor struct {
	name     string
	buildCmd func() *exec.Cmd
	sink     Sink

	// Restart policy
	maxFails    int
	fastFailSec float64
	maxBackoff  time.Duration
	initial     time.Duration

	mu         sync.Mutex
	currentPID int
	backoff    *backoff.ExponentialBackOff
	delay      time.Duration
	failCount  int
	events     int
	stopCh     chan struct{}
	doneCh     chan struct{}
	running    bool
}

// NewSupervisor creates a Supervisor with default restart policy.
func NewSupervisor(name string, buildCmd func() *exec.Cmd, sink Sink) *Supervisor {
	return &Supervisor{
		name:        name,
		buildCmd:    buildCmd,
		sink:        sink,
		maxFails:    defaultMaxFails,
		fastFailSec: defaultFastFailSec,
		maxBackoff:  defaultMaxBackoff,
		initial:     initialBackoff,
	}
}

// CommandSupervisor supervises "sh -c cmdline".
func CommandSupervisor(cmdline string, sink Sink) *Supervisor {
	return NewSupervisor("hotplug-watcher", func() *exec.Cmd {
		return exec.Command("sh", "-c", cmdline)
	}, sink)
}

func (s *Supervisor) resetBackoff() {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initial
	b.MaxInterval = s.maxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	s.backoff = b
	s.delay = s.initial
}

// grow advances the restart delay. s.mu must be held.
func (s *Supervisor) grow() {
	s.delay = s.backoff.NextBackOff()
}

// Start launches the watcher and begins supervising it. ctx cancellation
// stops supervision and kills the process. Starting twice is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.failCount = 0
	s.resetBackoff()
	s.running = true
	go s.supervise(ctx, s.stopCh)
	return nil
}

// Stop kills the watcher and waits for supervision to end. Safe to call if
// not running.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.running || s.stopCh == nil {
		s.mu.Unlock()
		return nil
	}
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.stopCh = nil
	s.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
	case <-time.After(10 * time.Second):
		slog.Warn("hotplug: supervisor stop timed out", "name", s.name)
	}
	return nil
}

// Pid returns the current process PID, or 0 if not running.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPID
}

// Events returns how many events were delivered to the sink.
func (s *Supervisor) Events() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

func (s *Supervisor) supervise(ctx context.Context, stopCh <-chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.currentPID = 0
		doneCh := s.doneCh
		s.mu.Unlock()
		close(doneCh)
	}()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		if s.failCount >= s.maxFails {
			slog.Error("hotplug: watcher giving up after too many fast-fails", "name", s.name, "fails", s.failCount)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		cmd := s.buildCmd()
		if cmd == nil {
			slog.Error("hotplug: buildCmd returned nil", "name", s.name)
			return
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			slog.Error("hotplug: stdout pipe failed", "name", s.name, "err", err)
			return
		}

		startTime := time.Now()
		slog.Info("hotplug: starting watcher", "name", s.name, "cmd", cmd.Path)

		if err := cmd.Start(); err != nil {
			if errors.Is(err, exec.ErrNotFound) || isNotFoundError(err) {
				slog.Error("hotplug: watcher binary not found, giving up", "name", s.name, "cmd", cmd.Path, "err", err)
				return
			}
			slog.Error("hotplug: failed to start watcher", "name", s.name, "err", err)
			s.mu.Lock()
			s.failCount++
			delay := s.delay
			s.grow()
			s.mu.Unlock()
			s.sleepOrStop(ctx, stopCh, delay)
			continue
		}

		pid := cmd.Process.Pid
		s.mu.Lock()
		s.currentPID = pid
		s.mu.Unlock()
		slog.Info("hotplug: watcher running", "name", s.name, "pid", pid)

		// Lines must be drained before Wait closes the pipe.
		exitCh := make(chan error, 1)
		go func() {
			s.readEvents(ctx, stdout)
			exitCh <- cmd.Wait()
		}()

		var exitErr error
		select {
		case exitErr = <-exitCh:
		case <-stopCh:
			s.killProcess(pid)
			<-exitCh
			return
		case <-ctx.Done():
			s.killProcess(pid)
			<-exitCh
			return
		}

		elapsed := time.Since(startTime)
		slog.Info("hotplug: watcher exited", "name", s.name, "pid", pid, "elapsed", elapsed, "err", exitErr)

		s.mu.Lock()
		s.currentPID = 0
		if elapsed >= backoffReset {
			s.failCount = 0
			s.resetBackoff()
		} else if elapsed.Seconds() < s.fastFailSec {
			s.failCount++
			s.grow()
		} else {
			s.failCount = 0
		}
		delay := s.delay
		s.mu.Unlock()

		if delay > 0 {
			s.sleepOrStop(ctx, stopCh, delay)
		}
	}
}

func (s *Supervisor) readEvents(ctx context.Context, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ev, err := ParseEvent(line)
		if err != nil {
			slog.Warn("hotplug: ignoring watcher line", "name", s.name, "line", line, "err", err)
			continue
		}
		slog.Debug("hotplug: event", "name", s.name, "event", ev)
		if err := Dispatch(ctx, s.sink, ev); err != nil {
			slog.Warn("hotplug: event not applied", "event", ev, "err", err)
		}
		s.mu.Lock()
		s.events++
		s.mu.Unlock()
	}
	if err := sc.Err(); err != nil {
		slog.Debug("hotplug: watcher output closed", "name", s.name, "err", err)
	}
}

// killProcess sends SIGTERM to the process group, waits sigtermTimeout,
// then escalates to SIGKILL.
func (s *Supervisor) killProcess(pid int) {
	if pid <= 0 {
		return
	}
	slog.Debug("hotplug: sending SIGTERM to watcher group", "pid", pid)
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		deadline := time.Now().Add(sigtermTimeout)
		for time.Now().Before(deadline) {
			if syscall.Kill(-pid, 0) != nil {
				close(done)
				return
			}
			time.Sleep(100 * time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(sigtermTimeout + 100*time.Millisecond):
	}
	if syscall.Kill(-pid, 0) == nil {
		slog.Warn("hotplug: SIGTERM timed out, sending SIGKILL", "pid", pid)
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}

func (s *Supervisor) sleepOrStop(ctx context.Context, stopCh <-chan struct{}, d time.Duration) {
	select {
	case <-time.After(d):
	case <-stopCh:
	case <-ctx.Done():
	}
}

// isNotFoundError returns true if err indicates the binary was not found.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "executable file not found") ||
		strings.Contains(msg, "no such file or directory") ||
		errors.Is(err, exec.ErrNotFound)
}
