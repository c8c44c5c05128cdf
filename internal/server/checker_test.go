package server

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jittakal/kafwindowsink/internal/window"
	"github.com/jittakal/kafwindowsink/pkg/record"
)

func newTestTracker() *window.Tracker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return window.NewTracker(window.NewAssigner(5*time.Minute), 0, false, logger, nil)
}

func TestSinkHealth_Lifecycle(t *testing.T) {
	h := NewSinkHealth(newTestTracker(), 0)
	ctx := context.Background()

	if h.Liveness() {
		t.Error("Liveness() = true before start")
	}
	if h.Readiness(ctx) {
		t.Error("Readiness() = true before ready")
	}

	h.SetStarted()
	if !h.Liveness() {
		t.Error("Liveness() = false after start")
	}
	if h.Readiness(ctx) {
		t.Error("Readiness() = true while not consuming")
	}

	h.SetReady(true)
	if !h.Readiness(ctx) {
		t.Error("Readiness() = false while consuming")
	}
	if !h.IsHealthy() {
		t.Error("IsHealthy() = false while healthy")
	}

	h.SetReady(false)
	if h.Readiness(ctx) {
		t.Error("Readiness() = true after shutdown began")
	}
	if !h.Liveness() {
		t.Error("Liveness() = false during shutdown")
	}
}

func TestSinkHealth_Status(t *testing.T) {
	tracker := newTestTracker()
	h := NewSinkHealth(tracker, 0)

	status := h.GetStatus()
	if status["windows_tracked"] != "0" {
		t.Errorf("windows_tracked = %q, want 0", status["windows_tracked"])
	}
	if _, ok := status["watermark"]; ok {
		t.Error("watermark reported before any advancement")
	}

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tracker.Ingest(record.Record{
		Payload:   []byte("p"),
		EventTime: base.Add(time.Minute),
	})
	tracker.AdvanceWatermark(base.Add(2 * time.Minute))

	status = h.GetStatus()
	if status["windows_tracked"] != "1" {
		t.Errorf("windows_tracked = %q, want 1", status["windows_tracked"])
	}
	if status["watermark"] == "" {
		t.Error("watermark missing after advancement")
	}
	if status["watermark_state"] != "advancing" {
		t.Errorf("watermark_state = %q, want advancing", status["watermark_state"])
	}
}

func TestSinkHealth_WatermarkStall(t *testing.T) {
	tracker := newTestTracker()
	h := NewSinkHealth(tracker, 20*time.Millisecond)
	h.SetStarted()
	h.SetReady(true)
	ctx := context.Background()

	// No watermark yet: an idle topic is not a failure.
	if !h.Readiness(ctx) {
		t.Error("Readiness() = false with no watermark")
	}

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tracker.AdvanceWatermark(base)
	if !h.Readiness(ctx) {
		t.Error("Readiness() = false right after watermark advance")
	}

	time.Sleep(40 * time.Millisecond)
	if h.Readiness(ctx) {
		t.Error("Readiness() = true after watermark stalled")
	}

	// Advancing again recovers.
	tracker.AdvanceWatermark(base.Add(time.Minute))
	if !h.Readiness(ctx) {
		t.Error("Readiness() = false after watermark recovered")
	}
}
