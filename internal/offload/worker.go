// Package offload runs the blocking control commands of a compressed-offload
// stream on a dedicated goroutine.
//
// Commands are queued under the owning session's lock and signalled through a
// condition variable on that lock. The routing engine holds the session lock
// while it swaps the session's route, which keeps the worker from picking up
// or completing a command mid-swap; the worker never blocks the engine.
package offload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/micro-nova/audioroute/internal/hardware"
	"github.com/micro-nova/audioroute/internal/models"
)

// Command is an offload control command.
type Command int

const (
	CmdDrain Command = iota
	CmdPartialDrain
	CmdPause
	CmdResume
)

var commandNames = map[Command]string{
	CmdDrain:        "drain",
	CmdPartialDrain: "partial-drain",
	CmdPause:        "pause",
	CmdResume:       "resume",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// ParseCommand parses a command name as produced by String.
func ParseCommand(s string) (Command, error) {
	for c, n := range commandNames {
		if n == s {
			return c, nil
		}
	}
	return 0, models.ErrInvalidArgument(fmt.Sprintf("unknown offload command %q", s))
}

type request struct {
	ctx    context.Context
	cmd    Command
	result chan error
}

// Worker executes offload commands in submission order.
type Worker struct {
	lock    sync.Locker
	cond    *sync.Cond
	queue   []request
	handle  hardware.Handle
	stopped bool
	busy    bool
	done    chan struct{}
}

// Start launches a worker for h. lock is the owning session's lock.
func Start(lock sync.Locker, h hardware.Handle) *Worker {
	w := &Worker{
		lock:   lock,
		cond:   sync.NewCond(lock),
		handle: h,
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

// Do queues cmd and waits for it to complete or for ctx to end. A command
// abandoned by its caller still runs to completion.
func (w *Worker) Do(ctx context.Context, cmd Command) error {
	if _, ok := commandNames[cmd]; !ok {
		return models.ErrInvalidArgument(fmt.Sprintf("unknown offload command %d", int(cmd)))
	}
	req := request{ctx: ctx, cmd: cmd, result: make(chan error, 1)}
	w.lock.Lock()
	if w.stopped {
		w.lock.Unlock()
		return models.ErrInconsistentState("offload: worker stopped")
	}
	w.queue = append(w.queue, req)
	w.cond.Signal()
	w.lock.Unlock()

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Busy reports whether a command is executing. The session lock must be held.
func (w *Worker) Busy() bool { return w.busy }

// Pending returns the number of queued commands. The session lock must be held.
func (w *Worker) Pending() int { return len(w.queue) }

// Stop fails queued commands, waits for the executing one and ends the
// worker. The session lock must not be held.
func (w *Worker) Stop() {
	w.lock.Lock()
	w.stopped = true
	w.cond.Broadcast()
	w.lock.Unlock()
	<-w.done
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		w.lock.Lock()
		for len(w.queue) == 0 && !w.stopped {
			w.cond.Wait()
		}
		if w.stopped {
			for _, req := range w.queue {
				req.result <- models.ErrInconsistentState("offload: worker stopped")
			}
			w.queue = nil
			w.lock.Unlock()
			return
		}
		req := w.queue[0]
		w.queue = w.queue[1:]
		h := w.handle
		w.busy = true
		w.lock.Unlock()

		err := run(req.ctx, h, req.cmd)
		if err != nil {
			slog.Warn("offload: command failed", "cmd", req.cmd, "err", err)
		}

		w.lock.Lock()
		w.busy = false
		w.cond.Broadcast()
		w.lock.Unlock()
		req.result <- err
	}
}

func run(ctx context.Context, h hardware.Handle, cmd Command) error {
	if h == nil {
		return models.ErrHardwareUnavailable("offload: no stream handle")
	}
	switch cmd {
	case CmdDrain:
		return h.Drain(ctx)
	case CmdPartialDrain:
		return h.PartialDrain(ctx)
	case CmdPause:
		return h.Pause(ctx)
	default:
		return h.Resume(ctx)
	}
}
