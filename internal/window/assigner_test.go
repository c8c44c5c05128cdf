package window

import (
	"testing"
	"time"

	"github.com/jittakal/kafwindowsink/pkg/record"
)

func TestAssigner_Assign(t *testing.T) {
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		duration  time.Duration
		eventTime time.Time
		wantStart time.Time
	}{
		{
			name:      "mid window",
			duration:  5 * time.Minute,
			eventTime: base.Add(2*time.Minute + 30*time.Second),
			wantStart: base,
		},
		{
			name:      "exactly on boundary belongs to the new window",
			duration:  5 * time.Minute,
			eventTime: base.Add(5 * time.Minute),
			wantStart: base.Add(5 * time.Minute),
		},
		{
			name:      "one nanosecond before boundary",
			duration:  5 * time.Minute,
			eventTime: base.Add(5*time.Minute - time.Nanosecond),
			wantStart: base,
		},
		{
			name:      "hourly window",
			duration:  time.Hour,
			eventTime: base.Add(42 * time.Minute),
			wantStart: base,
		},
		{
			name:      "non-UTC event time normalizes to UTC",
			duration:  5 * time.Minute,
			eventTime: base.Add(time.Minute).In(time.FixedZone("PST", -8*3600)),
			wantStart: base,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssigner(tt.duration)
			id := a.Assign(record.Record{EventTime: tt.eventTime})

			if !id.Start.Equal(tt.wantStart) {
				t.Errorf("Start = %v, want %v", id.Start, tt.wantStart)
			}
			if !id.End.Equal(tt.wantStart.Add(tt.duration)) {
				t.Errorf("End = %v, want %v", id.End, tt.wantStart.Add(tt.duration))
			}
		})
	}
}

func TestAssigner_AssignIsStable(t *testing.T) {
	a := NewAssigner(time.Minute)
	r := record.Record{EventTime: time.Date(2024, 6, 1, 10, 0, 30, 0, time.UTC)}

	first := a.Assign(r)
	for i := 0; i < 100; i++ {
		if got := a.Assign(r); got != first {
			t.Fatalf("Assign() = %v, want %v", got, first)
		}
	}
}

func TestAssigner_AdjacentWindowsDoNotOverlap(t *testing.T) {
	a := NewAssigner(10 * time.Minute)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	prev := a.Assign(record.Record{EventTime: base})
	for i := 1; i < 12; i++ {
		next := a.Assign(record.Record{EventTime: base.Add(time.Duration(i) * 10 * time.Minute)})
		if !prev.End.Equal(next.Start) {
			t.Fatalf("window %d: prev.End = %v, next.Start = %v", i, prev.End, next.Start)
		}
		prev = next
	}
}
