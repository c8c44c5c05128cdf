package sink

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jittakal/kafwindowsink/internal/errors"
	"github.com/jittakal/kafwindowsink/internal/window"
	"github.com/jittakal/kafwindowsink/pkg/record"
	"github.com/jittakal/kafwindowsink/pkg/source"
)

// Validator checks a record against the input contract before it is
// assigned to a window.
type Validator interface {
	Validate(r record.Record) error
}

// Pipeline connects the source to the tracker and the emitter: records are
// ingested into windows, watermark advances close windows, and closed
// windows flow to emit workers. Offsets are acknowledged to the source only
// after their window is emitted, so anything buffered in-memory can be
// redelivered after a restart.
type Pipeline struct {
	src       source.Source
	validator Validator
	tracker   *window.Tracker
	emitter   *Emitter
	workers   int
	logger    *slog.Logger

	mu   sync.Mutex
	acks map[record.WindowID][]func() error
}

// NewPipeline creates a pipeline with the given number of emit workers. The
// validator may be nil to disable contract checks.
func NewPipeline(src source.Source, validator Validator, tracker *window.Tracker, emitter *Emitter, workers int, logger *slog.Logger) *Pipeline {
	if workers <= 0 {
		workers = 1
	}
	return &Pipeline{
		src:       src,
		validator: validator,
		tracker:   tracker,
		emitter:   emitter,
		workers:   workers,
		logger:    logger,
		acks:      make(map[record.WindowID][]func() error),
	}
}

// Run consumes from the source until the context is cancelled or the source
// terminates. Cancellation stops ingestion but lets in-flight window
// emissions finish before returning; a window is never marked emitted
// unless every shard commit succeeded.
func (p *Pipeline) Run(ctx context.Context, topics []string) error {
	if err := p.src.Subscribe(ctx, topics); err != nil {
		return err
	}

	msgs, watermarks, srcErrs, err := p.src.Consume(ctx)
	if err != nil {
		return err
	}

	// Emission survives cancellation of the ingest loop so that shards
	// already half-committed reach a consistent state.
	emitCtx := context.WithoutCancel(ctx)

	closedCh := make(chan *window.Closed, p.workers)
	fatalCh := make(chan error, 1)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for closed := range closedCh {
				p.emitWindow(emitCtx, closed, fatalCh)
			}
		}()
	}

	runErr := p.ingestLoop(ctx, msgs, watermarks, srcErrs, closedCh, fatalCh)

	close(closedCh)
	wg.Wait()

	// A fatal emission error that raced with shutdown still surfaces.
	if runErr == nil {
		select {
		case err := <-fatalCh:
			runErr = err
		default:
		}
	}
	return runErr
}

func (p *Pipeline) ingestLoop(
	ctx context.Context,
	msgs <-chan *source.Message,
	watermarks <-chan time.Time,
	srcErrs <-chan error,
	closedCh chan<- *window.Closed,
	fatalCh <-chan error,
) error {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline context cancelled, draining emissions")
			return nil

		case err := <-fatalCh:
			p.logger.Error("fatal pipeline error", "error", err)
			return err

		case err, ok := <-srcErrs:
			if ok && err != nil {
				p.logger.Error("source error", "error", err)
			}

		case wm, ok := <-watermarks:
			if !ok {
				return nil
			}
			for _, closed := range p.tracker.AdvanceWatermark(wm) {
				select {
				case closedCh <- closed:
				case <-ctx.Done():
					return nil
				}
			}

		case msg, ok := <-msgs:
			if !ok {
				p.logger.Info("source channel closed")
				return nil
			}
			p.ingest(msg)
		}
	}
}

func (p *Pipeline) ingest(msg *source.Message) {
	if p.validator != nil {
		if err := p.validator.Validate(msg.Record); err != nil {
			// Malformed records are final for this delivery, like late ones.
			p.logger.Warn("dropping invalid record",
				"topic", msg.Record.Kafka.Topic,
				"offset", msg.Record.Kafka.Offset,
				"error", err,
			)
			if msg.Ack != nil {
				if ackErr := msg.Ack(); ackErr != nil {
					p.logger.Error("failed to ack invalid record", "error", ackErr)
				}
			}
			return
		}
	}

	id, err := p.tracker.Ingest(msg.Record)
	if err != nil {
		// Late drops are final for this delivery; release the offset.
		if stderrors.Is(err, errors.ErrLateDataDropped) && msg.Ack != nil {
			if ackErr := msg.Ack(); ackErr != nil {
				p.logger.Error("failed to ack dropped record", "error", ackErr)
			}
		}
		return
	}

	if msg.Ack != nil {
		p.mu.Lock()
		p.acks[id] = append(p.acks[id], msg.Ack)
		p.mu.Unlock()
	}
}

func (p *Pipeline) emitWindow(ctx context.Context, closed *window.Closed, fatalCh chan<- error) {
	err := p.emitter.Emit(ctx, closed)
	if err == nil {
		p.tracker.MarkEmitted(closed.Window)
		p.ackWindow(closed.Window)
		return
	}

	if errors.IsFatal(err) {
		select {
		case fatalCh <- err:
		default:
		}
		return
	}

	// Transient exhaustion or quarantine: the window stays CLOSED and its
	// offsets unacknowledged, so the source can redeliver for a later
	// reprocessing pass.
	p.logger.Error("window emission failed",
		"window", closed.Window.String(),
		"records", len(closed.Records),
		"error", err,
	)
}

func (p *Pipeline) ackWindow(id record.WindowID) {
	p.mu.Lock()
	acks := p.acks[id]
	delete(p.acks, id)
	p.mu.Unlock()

	for _, ack := range acks {
		if err := ack(); err != nil {
			p.logger.Error("failed to commit offset", "window", id.String(), "error", err)
		}
	}
}
