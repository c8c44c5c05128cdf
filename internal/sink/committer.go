// Package sink turns closed windows into committed shard blobs: it plans
// shards, encodes them, and commits each blob with bounded retries.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	apperrors "github.com/jittakal/kafwindowsink/internal/errors"
	"github.com/jittakal/kafwindowsink/pkg/blob"
	"github.com/jittakal/kafwindowsink/pkg/record"
)

// RetryConfig bounds the commit retry loop.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         bool
}

// DefaultRetryConfig mirrors the storage retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

// Committer writes one encoded shard block to its deterministic final path.
//
// Transient store failures are retried with exponential backoff and jitter
// up to the attempt bound, then escalated as ErrSinkWriteFailed. Committing
// the same output file again after a partial failure is safe: the path is a
// pure function of (window, shard index, shard count) and Put replaces.
type Committer struct {
	store   blob.Store
	backend string
	retry   RetryConfig
	logger  *slog.Logger
	metrics MetricsCollector
}

// MetricsCollector defines metrics operations for the sink.
type MetricsCollector interface {
	IncShardsWritten(format string, status string)
	IncShardWriteFailures(format string)
	ObserveShardSize(format string, sizeBytes float64)
	ObserveCommitDuration(backend string, seconds float64)
	ObserveEncodeDuration(format string, seconds float64)
	IncWindowsQuarantined(reason string)
}

// NewCommitter creates a committer for the given store.
func NewCommitter(store blob.Store, backend string, retry RetryConfig, logger *slog.Logger, metrics MetricsCollector) *Committer {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if retry.Multiplier < 1 {
		retry.Multiplier = 2.0
	}
	return &Committer{
		store:   store,
		backend: backend,
		retry:   retry,
		logger:  logger,
		metrics: metrics,
	}
}

// Commit writes data to the output file's path, retrying transient failures.
func (c *Committer) Commit(ctx context.Context, file record.OutputFile, data []byte, contentType string) error {
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.store.Put(ctx, file.Path, data, contentType)
		if err == nil {
			if c.metrics != nil {
				c.metrics.IncShardsWritten(string(file.Format), "success")
				c.metrics.ObserveShardSize(string(file.Format), float64(len(data)))
				c.metrics.ObserveCommitDuration(c.backend, time.Since(start).Seconds())
			}
			c.logger.Info("committed shard",
				"path", file.Path,
				"window", file.Window.String(),
				"shard", file.ShardIndex,
				"shard_count", file.ShardCount,
				"bytes", len(data),
				"attempts", attempt,
			)
			return nil
		}

		lastErr = err
		if apperrors.IsFatal(err) || !apperrors.IsRetryable(err) {
			break
		}

		c.logger.Warn("shard commit failed, retrying",
			"path", file.Path,
			"attempt", attempt,
			"max_attempts", c.retry.MaxAttempts,
			"error", err,
		)

		if attempt < c.retry.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}
	}

	if c.metrics != nil {
		c.metrics.IncShardsWritten(string(file.Format), "failure")
		c.metrics.IncShardWriteFailures(string(file.Format))
	}

	if apperrors.IsFatal(lastErr) {
		return &apperrors.CommitError{
			Path:     file.Path,
			Backend:  c.backend,
			Attempts: c.retry.MaxAttempts,
			Err:      lastErr,
		}
	}
	return &apperrors.CommitError{
		Path:     file.Path,
		Backend:  c.backend,
		Attempts: c.retry.MaxAttempts,
		Err:      fmt.Errorf("%w: %v", apperrors.ErrSinkWriteFailed, lastErr),
	}
}

// backoff returns the delay before the next attempt: exponential growth
// capped at the maximum, with optional half-window jitter.
func (c *Committer) backoff(attempt int) time.Duration {
	delay := float64(c.retry.InitialBackoff)
	for i := 1; i < attempt; i++ {
		delay *= c.retry.Multiplier
	}
	if max := float64(c.retry.MaxBackoff); c.retry.MaxBackoff > 0 && delay > max {
		delay = max
	}
	if c.retry.Jitter {
		delay = delay/2 + rand.Float64()*delay/2
	}
	return time.Duration(delay)
}
