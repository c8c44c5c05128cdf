package sink

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jittakal/kafwindowsink/internal/errors"
	"github.com/jittakal/kafwindowsink/internal/naming"
	"github.com/jittakal/kafwindowsink/internal/shard"
	"github.com/jittakal/kafwindowsink/internal/window"
	"github.com/jittakal/kafwindowsink/pkg/encoder"
	"github.com/jittakal/kafwindowsink/pkg/record"
)

// Quarantiner flags a window that failed with a data-class error for manual
// inspection instead of retrying it forever.
type Quarantiner interface {
	Quarantine(ctx context.Context, id record.WindowID, reason string, cause error) error
}

// Emitter drives a closed window through shard planning, encoding and
// commit. Shards of one window are disjoint, so they encode and commit in
// parallel up to the configured concurrency.
type Emitter struct {
	planner     *shard.Planner
	enc         encoder.Encoder
	namer       *naming.Namer
	committer   *Committer
	quarantine  Quarantiner
	concurrency int
	logger      *slog.Logger
	metrics     MetricsCollector
}

// NewEmitter creates an emitter.
func NewEmitter(
	planner *shard.Planner,
	enc encoder.Encoder,
	namer *naming.Namer,
	committer *Committer,
	quarantine Quarantiner,
	concurrency int,
	logger *slog.Logger,
	metrics MetricsCollector,
) *Emitter {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Emitter{
		planner:     planner,
		enc:         enc,
		namer:       namer,
		committer:   committer,
		quarantine:  quarantine,
		concurrency: concurrency,
		logger:      logger,
		metrics:     metrics,
	}
}

// Emit writes every shard of a closed window. It returns nil only when all
// shards are durably committed (or the window produced no output files);
// only then may the caller mark the window emitted. A data-class failure
// quarantines the window and is returned as non-retryable; a transient
// failure leaves the window closed and eligible for reprocessing.
func (e *Emitter) Emit(ctx context.Context, closed *window.Closed) error {
	shards := e.planner.Plan(closed.Window, closed.Records)
	if len(shards) == 0 {
		e.logger.Debug("skipping empty window", "window", closed.Window.String())
		return nil
	}

	errs := make([]error, len(shards))
	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	for i := range shards {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			errs[i] = e.emitShard(ctx, shards[i])
		}(i)
	}
	wg.Wait()

	var firstTransient, firstData error
	for _, err := range errs {
		if err == nil {
			continue
		}
		var encErr *errors.EncodeError
		if stderrors.As(err, &encErr) {
			if firstData == nil {
				firstData = err
			}
			continue
		}
		if firstTransient == nil {
			firstTransient = err
		}
	}

	if firstData != nil {
		// Schema problems repeat on every retry; flag the window instead.
		if e.metrics != nil {
			e.metrics.IncWindowsQuarantined("encode_failed")
		}
		if e.quarantine != nil {
			if qErr := e.quarantine.Quarantine(ctx, closed.Window, "encode_failed", firstData); qErr != nil {
				e.logger.Error("failed to quarantine window",
					"window", closed.Window.String(), "error", qErr)
			}
		}
		return firstData
	}
	if firstTransient != nil {
		return firstTransient
	}

	e.logger.Info("window emitted",
		"window", closed.Window.String(),
		"records", len(closed.Records),
		"shards", len(shards),
		"format", e.enc.Format(),
	)
	return nil
}

// emitShard encodes and commits a single shard.
func (e *Emitter) emitShard(ctx context.Context, s record.Shard) error {
	encodeStart := time.Now()
	data, err := e.enc.Encode(s.Records)
	if err != nil {
		return &errors.EncodeError{
			Window: s.Window,
			Shard:  s.Index,
			Format: e.enc.Format(),
			Err:    err,
		}
	}
	if e.metrics != nil {
		e.metrics.ObserveEncodeDuration(string(e.enc.Format()), time.Since(encodeStart).Seconds())
	}

	file := e.namer.OutputFile(s.Window, e.enc.Format(), s.Index, s.Count, e.enc.FileExtension())
	if err := e.committer.Commit(ctx, file, data, e.enc.ContentType()); err != nil {
		return fmt.Errorf("shard %d of window %s: %w", s.Index, s.Window, err)
	}
	return nil
}
