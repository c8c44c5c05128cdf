package window

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jittakal/kafwindowsink/internal/errors"
	"github.com/jittakal/kafwindowsink/pkg/record"
)

// MetricsCollector defines metrics operations for the window tracker.
type MetricsCollector interface {
	IncRecordsIngested(topic string, partition int32)
	IncLateRecordsDropped(topic string)
	IncWindowsClosed()
	IncWindowsEmitted()
	SetWindowsTracked(count float64)
	SetWatermark(unixSeconds float64)
}

// Closed is a window sealed for emission, carrying ownership of its buffered
// records. The tracker never touches the slice again after handing it off.
type Closed struct {
	Window  record.WindowID
	Records []record.Record
	Stats   record.WindowStats
}

// windowEntry is the tracker's per-window accumulation state. A window's
// buffer is mutated only while the entry is open or closing; at close the
// records move into a Closed value and the entry keeps state only.
type windowEntry struct {
	state   record.WindowState
	records []record.Record
	stats   record.WindowStats
}

// Tracker maintains the per-window state machine.
//
// Windows transition OPEN -> CLOSING when the watermark passes their end,
// CLOSING -> CLOSED once the allowed-lateness grace period has also passed,
// and CLOSED -> EMITTED when every shard has been durably committed. Records
// arriving for a window past its grace deadline are dropped and counted,
// never surfaced as a failure.
//
// All state is in-memory; durability of buffered-but-unemitted windows
// across restarts is delegated to the source's redelivery of unacknowledged
// offsets.
type Tracker struct {
	assigner  *Assigner
	lateness  time.Duration
	emitEmpty bool
	logger    *slog.Logger
	metrics   MetricsCollector

	mu        sync.Mutex
	windows   map[record.WindowID]*windowEntry
	watermark time.Time
	// cursor is the start of the earliest window not yet swept by the
	// close pass. Used to synthesize empty windows when emitEmpty is set.
	cursor time.Time

	droppedLate atomic.Int64
}

// NewTracker creates a window tracker.
func NewTracker(
	assigner *Assigner,
	allowedLateness time.Duration,
	emitEmpty bool,
	logger *slog.Logger,
	metrics MetricsCollector,
) *Tracker {
	return &Tracker{
		assigner:  assigner,
		lateness:  allowedLateness,
		emitEmpty: emitEmpty,
		logger:    logger,
		metrics:   metrics,
		windows:   make(map[record.WindowID]*windowEntry),
	}
}

// Ingest assigns a record to its window and appends it to the window buffer.
// Returns ErrLateDataDropped if the window's lateness budget is exhausted;
// callers must treat that as a counted drop, not a failure.
func (t *Tracker) Ingest(r record.Record) (record.WindowID, error) {
	id := t.assigner.Assign(r)

	t.mu.Lock()
	defer t.mu.Unlock()

	// Grace deadline check covers windows already swept out of the map.
	if !t.watermark.IsZero() && !id.End.Add(t.lateness).After(t.watermark) {
		return id, t.dropLate(id, r)
	}

	entry, ok := t.windows[id]
	if !ok {
		entry = &windowEntry{state: record.StateOpen}
		t.windows[id] = entry
		if t.cursor.IsZero() || id.Start.Before(t.cursor) {
			t.cursor = id.Start
		}
		if t.metrics != nil {
			t.metrics.SetWindowsTracked(float64(len(t.windows)))
		}
	}

	if entry.state >= record.StateClosed {
		return id, t.dropLate(id, r)
	}

	entry.records = append(entry.records, r)
	entry.stats.RecordCount++
	entry.stats.SizeBytes += int64(len(r.Key) + len(r.Payload))
	if entry.stats.FirstArrival.IsZero() {
		entry.stats.FirstArrival = r.ArrivalTime
	}
	entry.stats.LastArrival = r.ArrivalTime

	if t.metrics != nil {
		t.metrics.IncRecordsIngested(r.Kafka.Topic, r.Kafka.Partition)
	}
	return id, nil
}

func (t *Tracker) dropLate(id record.WindowID, r record.Record) error {
	t.droppedLate.Add(1)
	if t.metrics != nil {
		t.metrics.IncLateRecordsDropped(r.Kafka.Topic)
	}
	t.logger.Debug("dropped late record",
		"window", id.String(),
		"event_time", r.EventTime,
		"watermark", t.watermark,
	)
	return errors.ErrLateDataDropped
}

// AdvanceWatermark moves the watermark forward and returns every window that
// became closed, in window-start order. Moving the watermark backward is a
// logged no-op. Records in the returned Closed values are owned by the
// caller.
func (t *Tracker) AdvanceWatermark(wm time.Time) []*Closed {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !wm.After(t.watermark) {
		if wm.Before(t.watermark) {
			t.logger.Warn("ignoring watermark regression",
				"watermark", t.watermark, "proposed", wm)
		}
		return nil
	}
	t.watermark = wm
	if t.metrics != nil {
		t.metrics.SetWatermark(float64(wm.Unix()))
	}

	// Pass 1: open windows whose end has passed start closing.
	for id, entry := range t.windows {
		if entry.state == record.StateOpen && !id.End.After(wm) {
			entry.state = record.StateClosing
		}
	}

	var closed []*Closed

	// Pass 2: sweep the window timeline from the cursor. Windows whose
	// grace deadline has passed seal; gaps synthesize empty windows when
	// configured.
	if !t.cursor.IsZero() {
		dur := t.assigner.Duration()
		for !t.cursor.Add(dur + t.lateness).After(wm) {
			id := record.WindowID{Start: t.cursor, End: t.cursor.Add(dur)}
			if c := t.sealLocked(id); c != nil {
				closed = append(closed, c)
			}
			t.cursor = t.cursor.Add(dur)
		}
	}

	// Pass 3: out-of-cursor-order windows (sparse timelines ahead of the
	// cursor never reach pass 2 until much later, so seal them here).
	for id, entry := range t.windows {
		if entry.state == record.StateClosing && !id.End.Add(t.lateness).After(wm) {
			if c := t.sealLocked(id); c != nil {
				closed = append(closed, c)
			}
		}
	}

	sort.Slice(closed, func(i, j int) bool {
		return closed[i].Window.Start.Before(closed[j].Window.Start)
	})
	return closed
}

// sealLocked transitions a window to CLOSED and hands off its records.
// Returns nil when there is nothing to emit (unknown window with empty
// emission disabled, or the entry is already sealed).
func (t *Tracker) sealLocked(id record.WindowID) *Closed {
	entry, ok := t.windows[id]
	if !ok {
		if !t.emitEmpty {
			return nil
		}
		entry = &windowEntry{state: record.StateClosing}
		t.windows[id] = entry
	}
	if entry.state >= record.StateClosed {
		return nil
	}

	entry.state = record.StateClosed
	records := entry.records
	entry.records = nil

	if t.metrics != nil {
		t.metrics.IncWindowsClosed()
	}
	t.logger.Info("window closed",
		"window", id.String(),
		"records", len(records),
		"watermark", t.watermark,
	)

	return &Closed{Window: id, Records: records, Stats: entry.stats}
}

// MarkEmitted transitions a CLOSED window to EMITTED and frees its state.
// Calling it for an unknown window is a no-op.
func (t *Tracker) MarkEmitted(id record.WindowID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.windows[id]
	if !ok {
		return
	}
	if entry.state != record.StateClosed {
		t.logger.Warn("mark emitted on window in unexpected state",
			"window", id.String(), "state", entry.state.String())
		return
	}
	entry.state = record.StateEmitted
	delete(t.windows, id)

	if t.metrics != nil {
		t.metrics.IncWindowsEmitted()
		t.metrics.SetWindowsTracked(float64(len(t.windows)))
	}
}

// State returns the tracked state of a window, and whether it is tracked.
func (t *Tracker) State(id record.WindowID) (record.WindowState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.windows[id]
	if !ok {
		return 0, false
	}
	return entry.state, true
}

// Watermark returns the current watermark.
func (t *Tracker) Watermark() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watermark
}

// DroppedLate returns the number of late records dropped so far.
func (t *Tracker) DroppedLate() int64 {
	return t.droppedLate.Load()
}

// TrackedWindows returns the number of windows currently held.
func (t *Tracker) TrackedWindows() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}
