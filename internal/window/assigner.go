// Package window implements fixed event-time windowing: the pure assigner
// that buckets records into non-overlapping windows, and the tracker state
// machine that accumulates per-window buffers and decides when a window is
// closed for emission.
package window

import (
	"time"

	"github.com/jittakal/kafwindowsink/pkg/record"
)

// Assigner buckets records into fixed-duration event-time windows.
// Assignment is a pure function of the record's event time: every record
// belongs to exactly one window.
type Assigner struct {
	duration time.Duration
}

// NewAssigner creates an assigner for the given window duration.
// The duration must be positive; the config loader enforces this.
func NewAssigner(duration time.Duration) *Assigner {
	return &Assigner{duration: duration}
}

// Assign returns the window identity for a record.
// start = floor(event_time / duration) * duration, end = start + duration.
func (a *Assigner) Assign(r record.Record) record.WindowID {
	start := r.EventTime.UTC().Truncate(a.duration)
	return record.WindowID{Start: start, End: start.Add(a.duration)}
}

// Duration returns the configured window duration.
func (a *Assigner) Duration() time.Duration {
	return a.duration
}
