package server

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jittakal/kafwindowsink/internal/window"
)

// Ensure implementation satisfies interface at compile time.
var _ HealthChecker = (*SinkHealth)(nil)

// SinkHealth reports pipeline health from window tracker state. The sink is
// live once started and ready while the source is consuming; a watermark
// that stops advancing past the staleness bound marks it not ready, since
// windows can no longer close.
type SinkHealth struct {
	tracker            *window.Tracker
	watermarkStaleness time.Duration

	started atomic.Bool
	ready   atomic.Bool

	// lastAdvance tracks when the watermark last moved, as unix nanos.
	lastWatermark atomic.Int64
	lastAdvance   atomic.Int64
}

// NewSinkHealth creates a health checker over the tracker. A zero staleness
// disables the watermark check.
func NewSinkHealth(tracker *window.Tracker, watermarkStaleness time.Duration) *SinkHealth {
	return &SinkHealth{
		tracker:            tracker,
		watermarkStaleness: watermarkStaleness,
	}
}

// SetStarted marks the process as live.
func (h *SinkHealth) SetStarted() {
	h.started.Store(true)
}

// SetReady marks the source as consuming (or not).
func (h *SinkHealth) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Liveness reports whether the process should stay up.
func (h *SinkHealth) Liveness() bool {
	return h.started.Load()
}

// Readiness reports whether the sink is consuming and making progress.
func (h *SinkHealth) Readiness(ctx context.Context) bool {
	if !h.ready.Load() {
		return false
	}
	return !h.watermarkStalled()
}

// IsHealthy reports overall health.
func (h *SinkHealth) IsHealthy() bool {
	return h.started.Load() && h.ready.Load() && !h.watermarkStalled()
}

// GetStatus returns per-component status details.
func (h *SinkHealth) GetStatus() map[string]string {
	status := map[string]string{
		"windows_tracked":      fmt.Sprintf("%d", h.tracker.TrackedWindows()),
		"late_records_dropped": fmt.Sprintf("%d", h.tracker.DroppedLate()),
	}

	wm := h.tracker.Watermark()
	if !wm.IsZero() {
		status["watermark"] = wm.UTC().Format(time.RFC3339)
	}
	if h.watermarkStalled() {
		status["watermark_state"] = "stalled"
	} else {
		status["watermark_state"] = "advancing"
	}
	return status
}

// watermarkStalled reports whether the watermark has stopped moving for
// longer than the staleness bound.
func (h *SinkHealth) watermarkStalled() bool {
	if h.watermarkStaleness <= 0 {
		return false
	}

	wm := h.tracker.Watermark()
	if wm.IsZero() {
		// No records yet; an idle topic is not a failure.
		return false
	}

	nanos := wm.UnixNano()
	if nanos != h.lastWatermark.Load() {
		h.lastWatermark.Store(nanos)
		h.lastAdvance.Store(time.Now().UnixNano())
		return false
	}

	last := h.lastAdvance.Load()
	if last == 0 {
		h.lastAdvance.Store(time.Now().UnixNano())
		return false
	}
	return time.Since(time.Unix(0, last)) > h.watermarkStaleness
}
