// Package errors defines application-specific error types and sentinel errors.
//
// Errors fall into four classes: transient (storage I/O, retried with
// backoff), data (schema problems, never retried), late-data (counted and
// dropped, never surfaced) and fatal (misconfiguration or authorization,
// halts the pipeline).
package errors

import (
	"errors"
	"fmt"

	"github.com/jittakal/kafwindowsink/pkg/record"
)

// Sentinel errors for common conditions.
var (
	ErrLateDataDropped = errors.New("late record dropped")
	ErrMissingSchema   = errors.New("output schema is required but not configured")
	ErrSchemaMismatch  = errors.New("record does not conform to the output schema")
	ErrSinkWriteFailed = errors.New("shard write failed after all retries")
	ErrSourceClosed    = errors.New("source is closed")
	ErrStoreClosed     = errors.New("blob store is closed")
	ErrWindowSealed    = errors.New("window is already closed for ingestion")
	ErrUnauthorized    = errors.New("storage authorization failed")
)

// EncodeError represents a non-retryable serialization failure for a shard.
// The whole shard is rejected; nothing is partially written.
type EncodeError struct {
	Window record.WindowID
	Shard  int
	Format record.FileFormat
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode error: window=%s shard=%d format=%s: %v",
		e.Window, e.Shard, e.Format, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// IsRetryable always reports false: schema and serialization failures do not
// heal on retry.
func (e *EncodeError) IsRetryable() bool {
	return false
}

// CommitError represents a storage commit failure for one output file.
type CommitError struct {
	Path     string
	Backend  string
	Attempts int
	Err      error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit error: path=%s backend=%s attempts=%d: %v",
		e.Path, e.Backend, e.Attempts, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether another attempt may succeed. Authorization
// failures are final, and so is ErrSinkWriteFailed, which already absorbed
// the retry budget.
func (e *CommitError) IsRetryable() bool {
	return !errors.Is(e.Err, ErrUnauthorized) && !errors.Is(e.Err, ErrSinkWriteFailed)
}

// ValidationError represents a record that violates the input contract. The
// record is dropped; validation failures never retry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field=%s: %s", e.Field, e.Reason)
}

// IsRetryable always reports false: a malformed record stays malformed.
func (e *ValidationError) IsRetryable() bool {
	return false
}

// ConfigError represents a fatal configuration problem detected at startup
// or at first use of a misconfigured component.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: field=%s: %s", e.Field, e.Reason)
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable. It first checks the Retryable
// interface, then falls back to sentinel errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	if errors.Is(err, ErrMissingSchema) ||
		errors.Is(err, ErrSchemaMismatch) ||
		errors.Is(err, ErrUnauthorized) {
		return false
	}

	// Unclassified storage errors default to retryable; the committer's
	// attempt bound keeps this from looping forever. ErrSinkWriteFailed is
	// the post-retry escalation and must not re-enter the retry loop.
	return !errors.Is(err, ErrSinkWriteFailed)
}

// IsFatal reports whether an error must halt the pipeline rather than be
// isolated to a single window or shard.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return true
	}
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrMissingSchema)
}
