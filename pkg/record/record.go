// Package record defines the core types flowing through the windowed sink:
// records, window identities, shards and output files.
//
// Records are immutable once read from the source. Window identities are
// value types and safe for use as map keys because they are always derived
// from wall-clock timestamps in UTC.
package record

import (
	"fmt"
	"time"
)

// Record is a single timestamped element read from the source.
type Record struct {
	// Key is the optional grouping key. A nil or empty key is valid and
	// hashes to shard 0-equivalent like any other key value.
	Key []byte

	// Payload is the opaque record body.
	Payload []byte

	// EventTime is the time the event occurred, used for window assignment.
	EventTime time.Time

	// ArrivalTime is the time the record was read from the source.
	ArrivalTime time.Time

	// Kafka carries broker metadata for observability and redelivery.
	Kafka KafkaMetadata
}

// KafkaMetadata contains broker-side metadata for a record.
type KafkaMetadata struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
	Headers   map[string]string
}

// WindowID identifies a fixed event-time window [Start, End).
// End is exclusive.
type WindowID struct {
	Start time.Time
	End   time.Time
}

// String returns a compact representation of the window interval.
func (w WindowID) String() string {
	return fmt.Sprintf("[%s,%s)",
		w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339))
}

// Duration returns the window length.
func (w WindowID) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Contains reports whether t falls inside the window interval.
func (w WindowID) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// WindowState is the lifecycle state of a tracked window.
type WindowState int

const (
	// StateOpen accepts records; the watermark has not passed the window end.
	StateOpen WindowState = iota
	// StateClosing still accepts late records within the lateness grace period.
	StateClosing
	// StateClosed is sealed for emission; late records are dropped.
	StateClosed
	// StateEmitted means every shard of the window is durably committed.
	StateEmitted
)

// String returns the state name.
func (s WindowState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateEmitted:
		return "EMITTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// FileFormat represents the output serialization format.
type FileFormat string

const (
	// FormatText is newline-delimited UTF-8 text, optionally key\tvalue.
	FormatText FileFormat = "text"
	// FormatAvro is Avro OCF, a self-describing row-binary container.
	FormatAvro FileFormat = "avro"
	// FormatParquet is Parquet, a columnar binary format with a footer index.
	FormatParquet FileFormat = "parquet"
)

// Shard is a disjoint partition of a closed window's records. It is owned
// exclusively by its window and discarded once its blob is committed.
type Shard struct {
	Window  WindowID
	Index   int
	Count   int
	Records []Record
}

// OutputFile describes one shard blob at its deterministic final path.
type OutputFile struct {
	Path       string
	Format     FileFormat
	Window     WindowID
	ShardIndex int
	ShardCount int
}

// WindowStats summarizes a tracked window's accumulation state.
type WindowStats struct {
	RecordCount  int
	SizeBytes    int64
	FirstArrival time.Time
	LastArrival  time.Time
}
