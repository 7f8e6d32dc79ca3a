package hardware_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/micro-nova/audioroute/internal/hardware"
	"github.com/micro-nova/audioroute/internal/models"
)

func TestMockEnableDisable(t *testing.T) {
	m := hardware.NewMock()
	ctx := context.Background()

	if err := m.Enable(ctx, "speaker"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !m.IsEnabled("speaker") {
		t.Error("speaker not enabled")
	}
	if err := m.Enable(ctx, "speaker"); err == nil {
		t.Error("second Enable should report a double enable")
	}
	if err := m.Disable(ctx, "speaker"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if err := m.Disable(ctx, "speaker"); err == nil {
		t.Error("Disable of a disabled route should fail")
	}
	if got := m.CountCalls(hardware.OpEnable, "speaker"); got != 1 {
		t.Errorf("enable calls = %d, want 1", got)
	}
}

func TestMockFailEnable(t *testing.T) {
	m := hardware.NewMock()
	m.SetFailEnable("hdmi", true)
	err := m.Enable(context.Background(), "hdmi")
	if err == nil {
		t.Fatal("expected configured failure")
	}
	if hardware.IsTransient(err) {
		t.Error("configured enable failure should be permanent")
	}
	if m.IsEnabled("hdmi") {
		t.Error("failed enable left route enabled")
	}
}

func TestMockCalibrationLog(t *testing.T) {
	m := hardware.NewMock()
	ctx := context.Background()
	pair := models.RoutePair{Out: "speaker"}

	if err := m.ApplyCalibration(ctx, "deep-buffer", pair, models.StreamConfig{SampleRate: 48000}); err != nil {
		t.Fatal(err)
	}
	got, ok := m.Calibrated("deep-buffer")
	if !ok || got != pair {
		t.Errorf("Calibrated = %v, %v; want %v", got, ok, pair)
	}
	if err := m.ClearCalibration(ctx, "deep-buffer", pair); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Calibrated("deep-buffer"); ok {
		t.Error("calibration still present after clear")
	}
	calls := m.Calls()
	if len(calls) != 2 || calls[0].Op != hardware.OpCalibrate || calls[1].Op != hardware.OpClear {
		t.Errorf("unexpected call log %v", calls)
	}
}

func TestOpenWithRetryTransient(t *testing.T) {
	m := hardware.NewMock()
	m.SetFailOpen(2, nil)

	h, err := hardware.OpenWithRetry(context.Background(), m, "deep-buffer", hardware.RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("OpenWithRetry: %v", err)
	}
	defer h.Close()
	if got := m.CountCalls(hardware.OpOpen, "deep-buffer"); got != 1 {
		t.Errorf("successful opens = %d, want 1", got)
	}
}

func TestOpenWithRetryExhausted(t *testing.T) {
	m := hardware.NewMock()
	m.SetFailOpen(10, nil)

	_, err := hardware.OpenWithRetry(context.Background(), m, "deep-buffer", hardware.RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected failure after retries are exhausted")
	}
	if !hardware.IsTransient(err) {
		t.Errorf("err = %v, want the last transient error", err)
	}
}

func TestOpenWithRetryPermanent(t *testing.T) {
	m := hardware.NewMock()
	permanent := hardware.ErrHardware("no such node")
	m.SetFailOpen(1, permanent)

	start := time.Now()
	_, err := hardware.OpenWithRetry(context.Background(), m, "deep-buffer", hardware.RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want %v", err, permanent)
	}
	if time.Since(start) > 40*time.Millisecond {
		t.Error("permanent error was retried")
	}
}

func TestMockDrainGate(t *testing.T) {
	m := hardware.NewMock()
	gate := make(chan struct{})
	m.SetDrainGate(gate)
	h, err := m.OpenRoute(context.Background(), "compress-offload")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := h.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drain with closed-off gate = %v, want deadline exceeded", err)
	}
	close(gate)
	if err := h.Drain(context.Background()); err != nil {
		t.Errorf("Drain after gate open: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Error(err)
	}
	if err := h.Close(); err == nil {
		t.Error("double close should fail")
	}
}
