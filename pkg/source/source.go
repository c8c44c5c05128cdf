// Package source defines the record source abstraction feeding the sink.
//
// A source yields timestamped records together with a watermark signal: a
// monotonic estimate that no record with an earlier event time will arrive.
// The source must be able to redeliver records for any window that has not
// yet been durably emitted; offset acknowledgement is therefore deferred to
// the Ack hook rather than performed on read.
package source

import (
	"context"
	"time"

	"github.com/jittakal/kafwindowsink/pkg/record"
)

// Message is one record read from the source with its acknowledgement hook.
type Message struct {
	Record record.Record

	// Ack marks the record's offset as safe to commit. It must only be
	// called after the record's window reaches the emitted state.
	Ack func() error
}

// Source reads an unbounded record stream.
type Source interface {
	// Subscribe binds the source to one or more topics.
	Subscribe(ctx context.Context, topics []string) error

	// Consume starts reading. It returns a message channel, a watermark
	// channel and an error channel. All three are closed when the context
	// is cancelled or the source fails terminally.
	Consume(ctx context.Context) (<-chan *Message, <-chan time.Time, <-chan error, error)

	// Close releases broker resources.
	Close() error
}
