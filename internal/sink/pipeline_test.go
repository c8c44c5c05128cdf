package sink

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jittakal/kafwindowsink/internal/encoder"
	"github.com/jittakal/kafwindowsink/internal/naming"
	"github.com/jittakal/kafwindowsink/internal/shard"
	"github.com/jittakal/kafwindowsink/internal/window"
	"github.com/jittakal/kafwindowsink/pkg/record"
	"github.com/jittakal/kafwindowsink/pkg/source"
)

// scriptedSource feeds a fixed sequence of messages and watermarks.
type scriptedSource struct {
	msgs       chan *source.Message
	watermarks chan time.Time
	errs       chan error
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		msgs:       make(chan *source.Message, 16),
		watermarks: make(chan time.Time, 4),
		errs:       make(chan error, 1),
	}
}

func (s *scriptedSource) Subscribe(ctx context.Context, topics []string) error { return nil }

func (s *scriptedSource) Consume(ctx context.Context) (<-chan *source.Message, <-chan time.Time, <-chan error, error) {
	return s.msgs, s.watermarks, s.errs, nil
}

func (s *scriptedSource) Close() error { return nil }

func msgAt(key string, eventTime time.Time, acked *atomic.Int32) *source.Message {
	return &source.Message{
		Record: record.Record{
			Key:         []byte(key),
			Payload:     []byte("payload-" + key),
			EventTime:   eventTime,
			ArrivalTime: time.Now(),
			Kafka:       record.KafkaMetadata{Topic: "events"},
		},
		Ack: func() error {
			acked.Add(1)
			return nil
		},
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPipeline_EndToEnd(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	store := newMemoryStore()
	src := newScriptedSource()
	tracker := window.NewTracker(window.NewAssigner(5*time.Minute), 0, false, testLogger(), nil)
	planner := shard.NewPlanner(shard.Config{MaxShards: 1, TargetRecordsPerShard: 100})
	namer := naming.New("out/", "output")
	committer := NewCommitter(store, "file", fastRetry(3), testLogger(), nil)
	emitter := NewEmitter(planner, encoder.NewTextEncoder("none"), namer, committer, nil, 1, testLogger(), nil)
	pipeline := NewPipeline(src, nil, tracker, emitter, 1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- pipeline.Run(ctx, []string{"events"})
	}()

	var acked atomic.Int32
	src.msgs <- msgAt("a", base.Add(1*time.Minute), &acked)
	src.msgs <- msgAt("b", base.Add(2*time.Minute), &acked)
	src.msgs <- msgAt("a", base.Add(6*time.Minute), &acked)

	// Records must land before the watermark closes their windows.
	waitFor(t, func() bool { return tracker.TrackedWindows() == 2 }, "records ingested")

	src.watermarks <- base.Add(12 * time.Minute)

	firstPath := "out/2024-06-01T00-00-00/output-00000-of-00001.txt"
	secondPath := "out/2024-06-01T00-05-00/output-00000-of-00001.txt"

	waitFor(t, func() bool {
		_, ok1 := store.get(firstPath)
		_, ok2 := store.get(secondPath)
		return ok1 && ok2
	}, "both windows committed")

	data, _ := store.get(firstPath)
	if want := "a\tpayload-a\nb\tpayload-b\n"; string(data) != want {
		t.Errorf("first window = %q, want %q", data, want)
	}
	data, _ = store.get(secondPath)
	if want := "a\tpayload-a\n"; string(data) != want {
		t.Errorf("second window = %q, want %q", data, want)
	}

	// Offsets commit only after their window is emitted.
	waitFor(t, func() bool { return acked.Load() == 3 }, "all offsets acknowledged")
	waitFor(t, func() bool { return tracker.TrackedWindows() == 0 }, "windows freed")

	close(src.msgs)
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestPipeline_LateRecordAckedImmediately(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	store := newMemoryStore()
	src := newScriptedSource()
	tracker := window.NewTracker(window.NewAssigner(5*time.Minute), 0, false, testLogger(), nil)
	planner := shard.NewPlanner(shard.Config{MaxShards: 1, TargetRecordsPerShard: 100})
	committer := NewCommitter(store, "file", fastRetry(3), testLogger(), nil)
	emitter := NewEmitter(planner, encoder.NewTextEncoder("none"), naming.New("out/", "output"), committer, nil, 1, testLogger(), nil)
	pipeline := NewPipeline(src, nil, tracker, emitter, 1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- pipeline.Run(ctx, []string{"events"})
	}()

	src.watermarks <- base.Add(10 * time.Minute)
	waitFor(t, func() bool { return !tracker.Watermark().IsZero() }, "watermark applied")

	var acked atomic.Int32
	src.msgs <- msgAt("late", base.Add(time.Minute), &acked)

	waitFor(t, func() bool { return acked.Load() == 1 }, "late record acked")
	if got := tracker.DroppedLate(); got != 1 {
		t.Errorf("DroppedLate() = %d, want 1", got)
	}
	if store.putCount() != 0 {
		t.Errorf("puts = %d, want 0", store.putCount())
	}

	close(src.msgs)
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestPipeline_InvalidRecordDropped(t *testing.T) {
	store := newMemoryStore()
	src := newScriptedSource()
	tracker := window.NewTracker(window.NewAssigner(5*time.Minute), 0, false, testLogger(), nil)
	planner := shard.NewPlanner(shard.Config{MaxShards: 1, TargetRecordsPerShard: 100})
	committer := NewCommitter(store, "file", fastRetry(3), testLogger(), nil)
	emitter := NewEmitter(planner, encoder.NewTextEncoder("none"), naming.New("out/", "output"), committer, nil, 1, testLogger(), nil)
	pipeline := NewPipeline(src, rejectAll{}, tracker, emitter, 1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- pipeline.Run(ctx, []string{"events"})
	}()

	var acked atomic.Int32
	src.msgs <- msgAt("bad", time.Date(2024, 6, 1, 0, 1, 0, 0, time.UTC), &acked)

	waitFor(t, func() bool { return acked.Load() == 1 }, "invalid record acked")
	if got := tracker.TrackedWindows(); got != 0 {
		t.Errorf("TrackedWindows() = %d, want 0", got)
	}

	close(src.msgs)
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

// rejectAll fails validation for every record.
type rejectAll struct{}

func (rejectAll) Validate(r record.Record) error {
	return &validationFailure{}
}

type validationFailure struct{}

func (*validationFailure) Error() string { return "rejected" }
