package hardware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/micro-nova/audioroute/internal/models"
)

// Op identifies a gateway operation in the mock's call log.
type Op string

const (
	OpOpen      Op = "open"
	OpEnable    Op = "enable"
	OpDisable   Op = "disable"
	OpCalibrate Op = "calibrate"
	OpClear     Op = "clear"
)

// Call is one recorded gateway operation.
type Call struct {
	Op      Op
	Route   models.RouteID
	Usecase string
	Pair    models.RoutePair
}

func (c Call) String() string {
	switch c.Op {
	case OpCalibrate, OpClear:
		return fmt.Sprintf("%s %s in=%s out=%s", c.Op, c.Usecase, c.Pair.In, c.Pair.Out)
	default:
		return fmt.Sprintf("%s %s", c.Op, c.Route)
	}
}

// Mock is a thread-safe in-memory gateway for testing and development.
type Mock struct {
	mu          sync.Mutex
	enabled     map[models.RouteID]bool
	calibrated  map[string]models.RoutePair
	calls       []Call
	failEnable  map[models.RouteID]bool
	failOpen    int // remaining transient open failures
	failOpenErr error
	direct      map[models.RouteID]bool
	latency     time.Duration
	drainGate   chan struct{}
}

// NewMock creates a new mock gateway with nothing enabled.
func NewMock() *Mock {
	return &Mock{
		enabled:    make(map[models.RouteID]bool),
		calibrated: make(map[string]models.RoutePair),
		failEnable: make(map[models.RouteID]bool),
		direct:     make(map[models.RouteID]bool),
	}
}

// SetLatency makes every operation sleep for d, simulating bus timing.
func (m *Mock) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// SetFailEnable configures the mock to fail enabling the given route.
func (m *Mock) SetFailEnable(id models.RouteID, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failEnable[id] = fail
}

// SetFailOpen makes the next n OpenRoute calls fail with err. A nil err
// uses a transient busy error.
func (m *Mock) SetFailOpen(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOpen = n
	if err == nil {
		err = ErrBusy("mock: pcm node busy")
	}
	m.failOpenErr = err
}

// SetDirect marks a composite route as directly enableable.
func (m *Mock) SetDirect(id models.RouteID, direct bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.direct[id] = direct
}

// SetDrainGate makes Drain and PartialDrain on handles block until gate is
// closed or the context ends. A nil gate lets drains return immediately.
func (m *Mock) SetDrainGate(gate chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainGate = gate
}

func (m *Mock) sleep() {
	if m.latency > 0 {
		time.Sleep(m.latency)
	}
}

func (m *Mock) OpenRoute(ctx context.Context, profileKey string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleep()
	if m.failOpen > 0 {
		m.failOpen--
		return nil, m.failOpenErr
	}
	m.calls = append(m.calls, Call{Op: OpOpen, Route: models.RouteID(profileKey)})
	return &mockHandle{m: m}, nil
}

func (m *Mock) Enable(ctx context.Context, id models.RouteID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleep()
	if m.failEnable[id] {
		return ErrHardware(fmt.Sprintf("mock: enable %s failure configured", id))
	}
	if m.enabled[id] {
		return ErrHardware(fmt.Sprintf("mock: %s enabled twice", id))
	}
	m.enabled[id] = true
	m.calls = append(m.calls, Call{Op: OpEnable, Route: id})
	return nil
}

func (m *Mock) Disable(ctx context.Context, id models.RouteID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleep()
	if !m.enabled[id] {
		return ErrHardware(fmt.Sprintf("mock: %s disabled while not enabled", id))
	}
	delete(m.enabled, id)
	m.calls = append(m.calls, Call{Op: OpDisable, Route: id})
	return nil
}

func (m *Mock) ApplyCalibration(ctx context.Context, usecase string, pair models.RoutePair, cfg models.StreamConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleep()
	m.calibrated[usecase] = pair
	m.calls = append(m.calls, Call{Op: OpCalibrate, Usecase: usecase, Pair: pair})
	return nil
}

func (m *Mock) ClearCalibration(ctx context.Context, usecase string, pair models.RoutePair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleep()
	delete(m.calibrated, usecase)
	m.calls = append(m.calls, Call{Op: OpClear, Usecase: usecase, Pair: pair})
	return nil
}

func (m *Mock) CanEnableDirect(id models.RouteID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.direct[id]
}

func (m *Mock) IsReal() bool {
	return false
}

// IsEnabled reports whether the mock considers id powered up.
func (m *Mock) IsEnabled(id models.RouteID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[id]
}

// Enabled returns the set of powered-up routes.
func (m *Mock) Enabled() map[models.RouteID]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.RouteID]bool, len(m.enabled))
	for k, v := range m.enabled {
		out[k] = v
	}
	return out
}

// Calibrated returns the route pair last calibrated for usecase.
func (m *Mock) Calibrated(usecase string) (models.RoutePair, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.calibrated[usecase]
	return p, ok
}

// Calls returns a copy of the call log.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CountCalls returns how many times op was issued for route.
func (m *Mock) CountCalls(op Op, id models.RouteID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Op == op && c.Route == id {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log without touching enable state.
func (m *Mock) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

type mockHandle struct {
	m      *Mock
	mu     sync.Mutex
	paused bool
	closed bool
}

func (h *mockHandle) wait(ctx context.Context) error {
	h.m.mu.Lock()
	gate := h.m.drainGate
	h.m.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *mockHandle) Drain(ctx context.Context) error { return h.wait(ctx) }

func (h *mockHandle) PartialDrain(ctx context.Context) error { return h.wait(ctx) }

func (h *mockHandle) Pause(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = true
	return nil
}

func (h *mockHandle) Resume(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = false
	return nil
}

func (h *mockHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHardware("mock: handle closed twice")
	}
	h.closed = true
	return nil
}

// Ensure Mock implements the gateway interfaces.
var (
	_ Gateway       = (*Mock)(nil)
	_ DirectEnabler = (*Mock)(nil)
)
